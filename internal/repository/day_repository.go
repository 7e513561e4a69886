package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

// ErrDayNotFound is returned for unknown or already-deleted days.
var ErrDayNotFound = errors.New("day not found")

// DayRepository reads days and their stops and handles the delete cascade.
type DayRepository struct {
	pool *pgxpool.Pool
}

func NewDayRepository(pool *pgxpool.Pool) *DayRepository {
	return &DayRepository{pool: pool}
}

// GetDay returns a live (non-deleted) day.
func (r *DayRepository) GetDay(ctx context.Context, dayID string) (*model.Day, error) {
	var d model.Day
	err := r.pool.QueryRow(ctx, `
		SELECT id, trip_id, seq, rest_day, status, calculated_date,
		       deleted_at, created_at, updated_at
		FROM days
		WHERE id = $1 AND deleted_at IS NULL
	`, dayID).Scan(
		&d.ID, &d.TripID, &d.Seq, &d.RestDay, &d.Status, &d.CalculatedDate,
		&d.DeletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDayNotFound
		}
		return nil, fmt.Errorf("get day: %w", err)
	}
	return &d, nil
}

// ListStops returns the day's non-deleted stops ordered by seq.
func (r *DayRepository) ListStops(ctx context.Context, dayID string) ([]model.Stop, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, day_id, trip_id, place_id, seq, kind, fixed,
		       notes, stop_type, arrival_time, departure_time,
		       duration_minutes, priority, deleted_at
		FROM stops
		WHERE day_id = $1 AND deleted_at IS NULL
		ORDER BY seq ASC
	`, dayID)
	if err != nil {
		return nil, fmt.Errorf("list stops: %w", err)
	}
	defer rows.Close()

	var stops []model.Stop
	for rows.Next() {
		var s model.Stop
		if err := rows.Scan(
			&s.ID, &s.DayID, &s.TripID, &s.PlaceID, &s.Seq, &s.Kind, &s.Fixed,
			&s.Notes, &s.StopType, &s.ArrivalTime, &s.DepartureTime,
			&s.DurationMinutes, &s.Priority, &s.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// SoftDelete marks the day deleted and cascades in one transaction:
// stops are soft-deleted alongside, route versions are removed outright.
// Deleting an already-deleted day returns ErrDayNotFound.
func (r *DayRepository) SoftDelete(ctx context.Context, dayID string) error {
	txCtx, cancel := context.WithTimeout(ctx, DefaultCommitTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("delete day: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dayID); err != nil {
		return fmt.Errorf("delete day: day lock: %w", err)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(txCtx, `
		UPDATE days SET deleted_at = $2, status = $3, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, dayID, now, model.DayDeleted)
	if err != nil {
		return fmt.Errorf("delete day: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDayNotFound
	}

	if _, err := tx.Exec(txCtx, `
		UPDATE stops SET deleted_at = $2
		WHERE day_id = $1 AND deleted_at IS NULL
	`, dayID, now); err != nil {
		return fmt.Errorf("delete day: stops: %w", err)
	}

	if err := deleteVersionsByDayTx(txCtx, tx, dayID); err != nil {
		return fmt.Errorf("delete day: %w", err)
	}

	return tx.Commit(txCtx)
}
