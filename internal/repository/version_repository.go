// Package repository provides database access for the route engine.
//
// All writes touching the "exactly one active version per day" invariant
// run inside a single transaction under a per-day advisory lock, so
// concurrent commits on the same day serialize while different days
// proceed in parallel.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

// ErrVersionNotFound is returned when a version id does not exist for the day.
var ErrVersionNotFound = errors.New("route version not found")

// DefaultCommitTimeout bounds a commit transaction including lock wait.
const DefaultCommitTimeout = 5 * time.Second

// VersionRepository persists route versions and their legs.
type VersionRepository struct {
	pool *pgxpool.Pool
}

// NewVersionRepository creates a repository backed by the given PG pool.
func NewVersionRepository(pool *pgxpool.Pool) *VersionRepository {
	return &VersionRepository{pool: pool}
}

// ─── Commit ─────────────────────────────────────────────────

// Commit persists a previewed version as the day's new active version.
//
// In one transaction, serialized per day by an advisory lock:
//  1. lock the day
//  2. clear is_active on the prior active version
//  3. assign the next version_number
//  4. insert the version and its legs with is_active = true
//
// Two clients committing concurrently both succeed, in order, with
// version numbers N+1 and N+2; exactly one version ends up active.
func (r *VersionRepository) Commit(ctx context.Context, version *model.RouteVersion, name string) (*model.RouteVersion, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultCommitTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("commit version: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ── Step 1: serialize commits for this day ──────────
	if _, err := tx.Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtext($1))`, version.DayID); err != nil {
		return nil, fmt.Errorf("commit version: day lock: %w", err)
	}

	// ── Step 2: retire the current active version ───────
	if _, err := tx.Exec(txCtx, `
		UPDATE route_versions
		SET is_active = FALSE
		WHERE day_id = $1 AND is_active
	`, version.DayID); err != nil {
		return nil, fmt.Errorf("commit version: deactivate prior: %w", err)
	}

	// ── Step 3: next monotonic version number ───────────
	var nextNumber int
	if err := tx.QueryRow(txCtx, `
		SELECT COALESCE(MAX(version_number), 0) + 1
		FROM route_versions
		WHERE day_id = $1
	`, version.DayID).Scan(&nextNumber); err != nil {
		return nil, fmt.Errorf("commit version: next number: %w", err)
	}

	committed := *version
	committed.ID = ulid.Make().String()
	committed.VersionNumber = nextNumber
	committed.IsActive = true
	if name != "" {
		committed.Name = name
	}

	// ── Step 4: insert version + legs ───────────────────
	options, _ := json.Marshal(committed.Options)
	geometry, _ := json.Marshal(committed.Geometry)

	if _, err := tx.Exec(txCtx, `
		INSERT INTO route_versions (
			id, day_id, version_number, name, is_active,
			profile, objective, options, ordered_stop_ids,
			total_distance_km, total_duration_min,
			geometry, warnings, computed_at, provider_name
		) VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		committed.ID, committed.DayID, committed.VersionNumber, committed.Name,
		committed.Profile, committed.Objective, options, committed.OrderedStopIDs,
		committed.Totals.DistanceKm, committed.Totals.DurationMin,
		geometry, committed.Warnings, committed.ComputedAt, committed.ProviderName,
	); err != nil {
		return nil, fmt.Errorf("commit version: insert: %w", err)
	}

	for i, leg := range committed.Legs {
		var legGeom []byte
		if leg.Geometry != nil {
			legGeom, _ = json.Marshal(leg.Geometry)
		}
		if _, err := tx.Exec(txCtx, `
			INSERT INTO route_legs (
				version_id, seq, from_stop_id, to_stop_id,
				distance_km, duration_min, geometry
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, committed.ID, i+1, leg.FromStopID, leg.ToStopID,
			leg.DistanceKm, leg.DurationMin, legGeom); err != nil {
			return nil, fmt.Errorf("commit version: insert leg %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, fmt.Errorf("commit version: commit tx: %w", err)
	}

	return &committed, nil
}

// ─── Queries ────────────────────────────────────────────────

// ListVersions returns all versions of a day, newest first, legs included.
func (r *VersionRepository) ListVersions(ctx context.Context, dayID string) ([]model.RouteVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, day_id, version_number, name, is_active,
		       profile, objective, options, ordered_stop_ids,
		       total_distance_km, total_duration_min,
		       geometry, warnings, computed_at, provider_name
		FROM route_versions
		WHERE day_id = $1
		ORDER BY version_number DESC
	`, dayID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []model.RouteVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	for i := range versions {
		legs, err := r.loadLegs(ctx, versions[i].ID)
		if err != nil {
			return nil, err
		}
		versions[i].Legs = legs
	}
	return versions, nil
}

// GetActive returns the day's active version, or nil when none exists.
func (r *VersionRepository) GetActive(ctx context.Context, dayID string) (*model.RouteVersion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, day_id, version_number, name, is_active,
		       profile, objective, options, ordered_stop_ids,
		       total_distance_km, total_duration_min,
		       geometry, warnings, computed_at, provider_name
		FROM route_versions
		WHERE day_id = $1 AND is_active
	`, dayID)

	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	v.Legs, err = r.loadLegs(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// SetActive marks the given version active, clearing the flag on any other
// version of the day. Runs under the per-day lock.
func (r *VersionRepository) SetActive(ctx context.Context, dayID, versionID string) error {
	txCtx, cancel := context.WithTimeout(ctx, DefaultCommitTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("set active: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dayID); err != nil {
		return fmt.Errorf("set active: day lock: %w", err)
	}

	tag, err := tx.Exec(txCtx, `
		UPDATE route_versions SET is_active = (id = $2)
		WHERE day_id = $1 AND (is_active OR id = $2)
	`, dayID, versionID)
	if err != nil {
		return fmt.Errorf("set active: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionNotFound
	}

	// Confirm the target exists; the update above may have only cleared
	// the old flag when versionID is unknown.
	var exists bool
	if err := tx.QueryRow(txCtx, `
		SELECT EXISTS(SELECT 1 FROM route_versions WHERE day_id = $1 AND id = $2 AND is_active)
	`, dayID, versionID).Scan(&exists); err != nil {
		return fmt.Errorf("set active: verify: %w", err)
	}
	if !exists {
		return ErrVersionNotFound
	}

	return tx.Commit(txCtx)
}

// ─── Helpers ────────────────────────────────────────────────

// deleteByDayTx hard-deletes all versions (and legs) of a day inside the
// caller's transaction. Used by the day soft-delete cascade.
func deleteVersionsByDayTx(ctx context.Context, tx pgx.Tx, dayID string) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM route_legs
		WHERE version_id IN (SELECT id FROM route_versions WHERE day_id = $1)
	`, dayID); err != nil {
		return fmt.Errorf("delete versions: legs: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM route_versions WHERE day_id = $1`, dayID); err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}
	return nil
}

func (r *VersionRepository) loadLegs(ctx context.Context, versionID string) ([]model.Leg, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT from_stop_id, to_stop_id, distance_km, duration_min, geometry
		FROM route_legs
		WHERE version_id = $1
		ORDER BY seq ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("load legs: %w", err)
	}
	defer rows.Close()

	var legs []model.Leg
	for rows.Next() {
		var leg model.Leg
		var geom []byte
		if err := rows.Scan(&leg.FromStopID, &leg.ToStopID, &leg.DistanceKm, &leg.DurationMin, &geom); err != nil {
			return nil, fmt.Errorf("scan leg: %w", err)
		}
		if len(geom) > 0 {
			var ls model.LineString
			if err := json.Unmarshal(geom, &ls); err == nil {
				leg.Geometry = &ls
			}
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

func scanVersion(row pgx.Row) (*model.RouteVersion, error) {
	var v model.RouteVersion
	var options, geometry []byte

	err := row.Scan(
		&v.ID, &v.DayID, &v.VersionNumber, &v.Name, &v.IsActive,
		&v.Profile, &v.Objective, &options, &v.OrderedStopIDs,
		&v.Totals.DistanceKm, &v.Totals.DurationMin,
		&geometry, &v.Warnings, &v.ComputedAt, &v.ProviderName,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(options, &v.Options); err != nil {
		return nil, fmt.Errorf("scan version %s: options: %w", v.ID, err)
	}
	if err := json.Unmarshal(geometry, &v.Geometry); err != nil {
		return nil, fmt.Errorf("scan version %s: geometry: %w", v.ID, err)
	}
	return &v, nil
}
