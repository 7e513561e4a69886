// Package provider contains the routing-provider adapters and the
// orchestrator that dispatches between them.
//
// Three adapters share one capability set: a cloud GraphHopper-compatible
// endpoint, an operator-controlled self-host instance, and an in-process
// haversine estimator that always succeeds. The orchestrator owns adapter
// selection, circuit breaking, retry/backoff and matrix-call deduplication.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

// ─── Capability Set ─────────────────────────────────────────

// Provider is the capability set every adapter implements.
type Provider interface {
	// Name identifies the adapter in warnings and persisted versions.
	Name() string

	// ComputeRoute computes a single route through the ordered points.
	ComputeRoute(ctx context.Context, points []model.Location, profile model.Profile, opts model.RouteOptions) (*RouteResult, error)

	// ComputeMatrix computes the full N×N distance+duration matrix.
	ComputeMatrix(ctx context.Context, points []model.Location, profile model.Profile, objective model.Objective) (*Matrix, error)
}

// RouteResult is the normalized outcome of a single-route call.
// Distances are kilometers, durations minutes.
type RouteResult struct {
	DistanceKm  float64
	DurationMin float64
	Geometry    model.LineString
	Legs        []LegResult
	Warnings    []string
	Provider    string // stamped by the orchestrator
}

// LegResult is one per-pair segment inside a RouteResult. Geometry is nil
// when the provider returned only an overall geometry.
type LegResult struct {
	DistanceKm  float64
	DurationMin float64
	Geometry    *model.LineString
}

// Matrix holds N×N distances (km) and durations (min). The diagonal is
// zero and every cell is a non-negative finite number.
type Matrix struct {
	DistanceKm  [][]float64
	DurationMin [][]float64
}

// N returns the matrix dimension.
func (m *Matrix) N() int { return len(m.DistanceKm) }

// NewMatrix allocates a zeroed n×n matrix.
func NewMatrix(n int) *Matrix {
	m := &Matrix{
		DistanceKm:  make([][]float64, n),
		DurationMin: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		m.DistanceKm[i] = make([]float64, n)
		m.DurationMin[i] = make([]float64, n)
	}
	return m
}

// ─── Typed Errors ───────────────────────────────────────────

// ErrorKind tags a provider failure for retry/fallback decisions.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindUpstream5xx ErrorKind = "upstream_5xx"
	KindUpstream4xx ErrorKind = "upstream_4xx"
	KindTimeout     ErrorKind = "timeout"
	KindNetwork     ErrorKind = "network"
)

// Error is the typed failure every network adapter returns. Control flow in
// the orchestrator switches on Kind rather than string matching.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Status     int           // HTTP status when applicable
	Message    string
	RetryAfter time.Duration // only set for KindRateLimited
}

func (e *Error) Error() string {
	if e.Kind == KindRateLimited {
		return fmt.Sprintf("provider %s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Retryable reports whether the orchestrator should back off and retry.
// Upstream 4xx responses are terminal: the request itself is wrong.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUpstream5xx, KindTimeout, KindNetwork:
		return true
	}
	return false
}
