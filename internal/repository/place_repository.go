package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

// ErrPlaceNotFound is returned for unknown place ids.
var ErrPlaceNotFound = errors.New("place not found")

// PlaceRepository stores shared places referenced by stops.
type PlaceRepository struct {
	pool *pgxpool.Pool
}

func NewPlaceRepository(pool *pgxpool.Pool) *PlaceRepository {
	return &PlaceRepository{pool: pool}
}

// GetByID returns a place by id.
func (r *PlaceRepository) GetByID(ctx context.Context, id string) (*model.Place, error) {
	var p model.Place
	var meta []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, address, lat, lon, meta, created_at, updated_at
		FROM places
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Address, &p.Location.Lat, &p.Location.Lon,
		&meta, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlaceNotFound
		}
		return nil, fmt.Errorf("get place: %w", err)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &p.Meta)
	}
	return &p, nil
}

// GetByIDs returns the places for the given ids, keyed by id. Missing ids
// are absent from the map; callers decide whether that is an error.
func (r *PlaceRepository) GetByIDs(ctx context.Context, ids []string) (map[string]model.Place, error) {
	if len(ids) == 0 {
		return map[string]model.Place{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, address, lat, lon, meta, created_at, updated_at
		FROM places
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("get places: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Place, len(ids))
	for rows.Next() {
		var p model.Place
		var meta []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.Location.Lat, &p.Location.Lon,
			&meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &p.Meta)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// Upsert inserts a place, or returns the existing one when a place with the
// same name and coordinates (rounded to ~11 cm) already exists.
func (r *PlaceRepository) Upsert(ctx context.Context, place *model.Place) (*model.Place, error) {
	if place.ID == "" {
		place.ID = ulid.Make().String()
	}
	meta, _ := json.Marshal(place.Meta)

	var p model.Place
	var metaOut []byte
	err := r.pool.QueryRow(ctx, `
		INSERT INTO places (id, name, address, lat, lon, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (name, round(lat::numeric, 6), round(lon::numeric, 6))
		DO UPDATE SET address = EXCLUDED.address, meta = EXCLUDED.meta, updated_at = NOW()
		RETURNING id, name, address, lat, lon, meta, created_at, updated_at
	`, place.ID, place.Name, place.Address, place.Location.Lat, place.Location.Lon, meta).
		Scan(&p.ID, &p.Name, &p.Address, &p.Location.Lat, &p.Location.Lon,
			&metaOut, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert place: %w", err)
	}
	if len(metaOut) > 0 {
		_ = json.Unmarshal(metaOut, &p.Meta)
	}
	return &p, nil
}
