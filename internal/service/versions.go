package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
	"github.com/AdarBahar/MyTrip-sub004/internal/preview"
	"github.com/AdarBahar/MyTrip-sub004/internal/repository"
)

// VersionStore persists committed route versions; the pgx repository
// implements it.
type VersionStore interface {
	Commit(ctx context.Context, version *model.RouteVersion, name string) (*model.RouteVersion, error)
	ListVersions(ctx context.Context, dayID string) ([]model.RouteVersion, error)
	GetActive(ctx context.Context, dayID string) (*model.RouteVersion, error)
	SetActive(ctx context.Context, dayID, versionID string) error
}

// DayDeleter cascades a day deletion; the pgx repository implements it.
type DayDeleter interface {
	SoftDelete(ctx context.Context, dayID string) error
}

// VersionService turns previews into committed versions and manages the
// active-version lifecycle of a day.
type VersionService struct {
	store    VersionStore
	previews preview.Store
	days     DayDeleter
}

// NewVersionService wires the version lifecycle.
func NewVersionService(store VersionStore, previews preview.Store, days DayDeleter) *VersionService {
	return &VersionService{store: store, previews: previews, days: days}
}

// Commit consumes a preview token and persists its route as the day's new
// active version. The token is single-use: a second commit of the same
// token fails with PREVIEW_NOT_FOUND.
func (s *VersionService) Commit(ctx context.Context, token, name string) (*model.RouteVersion, error) {
	p, err := s.previews.Consume(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, preview.ErrExpired):
			return nil, &Error{Code: CodePreviewExpired, Message: "preview expired, recompute the route", cause: err}
		case errors.Is(err, preview.ErrNotFound):
			return nil, &Error{Code: CodePreviewNotFound, Message: "preview not found or already committed", cause: err}
		}
		return nil, fmt.Errorf("consume preview: %w", err)
	}

	committed, err := s.store.Commit(ctx, &p.Version, name)
	if err != nil {
		return nil, fmt.Errorf("commit version: %w", err)
	}
	return committed, nil
}

// ListVersions returns a day's versions, newest first.
func (s *VersionService) ListVersions(ctx context.Context, dayID string) ([]model.RouteVersion, error) {
	return s.store.ListVersions(ctx, dayID)
}

// GetActive returns the day's active version.
func (s *VersionService) GetActive(ctx context.Context, dayID string) (*model.RouteVersion, error) {
	v, err := s.store.GetActive(ctx, dayID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &Error{Code: CodeVersionNotFound, Message: "day has no active route version"}
	}
	return v, nil
}

// SetActive switches the day's active version to an existing one.
func (s *VersionService) SetActive(ctx context.Context, dayID, versionID string) error {
	err := s.store.SetActive(ctx, dayID, versionID)
	if errors.Is(err, repository.ErrVersionNotFound) {
		return &Error{Code: CodeVersionNotFound, Message: "route version not found for day", cause: err}
	}
	return err
}

// DeleteDay soft-deletes the day, soft-deletes its stops, and removes its
// route versions, all in one transaction.
func (s *VersionService) DeleteDay(ctx context.Context, dayID string) error {
	err := s.days.SoftDelete(ctx, dayID)
	if errors.Is(err, repository.ErrDayNotFound) {
		return &Error{Code: CodeDayNotFound, Message: "day not found", cause: err}
	}
	return err
}
