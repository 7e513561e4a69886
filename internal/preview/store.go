// Package preview stores computed-but-unpersisted route versions under
// opaque, short-lived tokens.
//
// Previews live in Redis so any instance behind a load balancer can commit
// a token another instance issued. A per-day index key guarantees at most
// one preview outstanding per day: saving a new one deletes the prior.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrNotFound is returned for unknown or already-consumed tokens.
	ErrNotFound = errors.New("preview not found")

	// ErrExpired is returned for tokens past their expiry.
	ErrExpired = errors.New("preview expired")
)

// ─── Store Interface ────────────────────────────────────────

// Store is the preview-token persistence boundary.
type Store interface {
	// Save stores a preview and invalidates any prior preview for its day.
	Save(ctx context.Context, p *model.Preview) error

	// Get returns the preview without consuming it.
	Get(ctx context.Context, token string) (*model.Preview, error)

	// Consume returns the preview and deletes it atomically, so a token
	// commits at most once.
	Consume(ctx context.Context, token string) (*model.Preview, error)
}

// ─── Redis Store ────────────────────────────────────────────

const (
	tokenKeyPrefix = "preview:token:"
	dayKeyPrefix   = "preview:day:"
)

// RedisStore keeps previews in Redis with TTL eviction.
//
// The Redis TTL is set to twice the logical expiry so that a token found
// past its ExpiresAt can still be reported as PREVIEW_EXPIRED rather than
// PREVIEW_NOT_FOUND.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a preview store on the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, p *model.Preview) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("preview: encode: %w", err)
	}

	ttl := 2 * time.Until(p.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("preview: expiry %s is in the past", p.ExpiresAt)
	}

	dayKey := dayKeyPrefix + p.DayID

	// Invalidate the prior preview for this day, then write the new one.
	prior, err := s.client.GetDel(ctx, dayKey).Result()
	if err == nil && prior != "" {
		_ = s.client.Del(ctx, tokenKeyPrefix+prior).Err()
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+p.Token, payload, ttl)
	pipe.Set(ctx, dayKey, p.Token, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("preview: save: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, token string) (*model.Preview, error) {
	payload, err := s.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("preview: get: %w", err)
	}
	return decode(payload)
}

// Consume implements Store.
func (s *RedisStore) Consume(ctx context.Context, token string) (*model.Preview, error) {
	payload, err := s.client.GetDel(ctx, tokenKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("preview: consume: %w", err)
	}

	p, err := decode(payload)
	if err != nil {
		return nil, err
	}

	_ = s.client.Del(ctx, dayKeyPrefix+p.DayID).Err()
	return p, nil
}

func decode(payload []byte) (*model.Preview, error) {
	var p model.Preview
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("preview: decode: %w", err)
	}
	if time.Now().After(p.ExpiresAt) {
		return nil, ErrExpired
	}
	return &p, nil
}
