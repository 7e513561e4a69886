package provider

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

// ─── Fingerprint ────────────────────────────────────────────

// Fingerprint returns the stable matrix-cache key for a point list plus
// profile and objective. Coordinates are rounded to 6 decimals (≈0.1 m) in
// their given order, so equal inputs always hash equal.
func Fingerprint(points []model.Location, profile model.Profile, objective model.Objective) string {
	var b strings.Builder
	for _, p := range points {
		fmt.Fprintf(&b, "%.6f,%.6f;", p.Lat, p.Lon)
	}
	fmt.Fprintf(&b, "%s;%s", profile, objective)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// ─── Matrix Cache ───────────────────────────────────────────

// MatrixCacheConfig tunes the in-memory matrix cache.
type MatrixCacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultMatrixCacheConfig returns 5 min TTL and 256 entries.
func DefaultMatrixCacheConfig() MatrixCacheConfig {
	return MatrixCacheConfig{TTL: 5 * time.Minute, MaxEntries: 256}
}

type cacheEntry struct {
	key       string
	matrix    *Matrix
	expiresAt time.Time
}

// MatrixCache is a TTL + LRU cache with per-key single-flight: concurrent
// lookups for an absent fingerprint share one compute, so any matrix is
// fetched from the provider exactly once per TTL window.
//
// A cancelled caller does not invalidate a populated entry; later callers
// still benefit from it.
type MatrixCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
	cfg     MatrixCacheConfig
	now     func() time.Time

	group singleflight.Group
}

// NewMatrixCache creates an empty cache.
func NewMatrixCache(cfg MatrixCacheConfig) *MatrixCache {
	if cfg.TTL <= 0 || cfg.MaxEntries <= 0 {
		cfg = DefaultMatrixCacheConfig()
	}
	return &MatrixCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		cfg:     cfg,
		now:     time.Now,
	}
}

// GetOrCompute returns the cached matrix for key, or runs compute exactly
// once across all concurrent callers and caches the result.
func (c *MatrixCache) GetOrCompute(key string, compute func() (*Matrix, error)) (*Matrix, error) {
	if m, ok := c.get(key); ok {
		return m, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have populated the
		// entry between our miss and acquiring the flight.
		if m, ok := c.get(key); ok {
			return m, nil
		}
		m, err := compute()
		if err != nil {
			return nil, err
		}
		c.put(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Matrix), nil
}

func (c *MatrixCache) get(key string) (*Matrix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.lru.Remove(el)
		delete(c.entries, key)
		return nil, false
	}

	c.lru.MoveToFront(el)
	return entry.matrix, true
}

func (c *MatrixCache) put(key string, m *Matrix) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).matrix = m
		el.Value.(*cacheEntry).expiresAt = c.now().Add(c.cfg.TTL)
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&cacheEntry{key: key, matrix: m, expiresAt: c.now().Add(c.cfg.TTL)})
	c.entries[key] = el

	for c.lru.Len() > c.cfg.MaxEntries {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of live entries (including expired, not yet evicted).
func (c *MatrixCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
