// Package service implements the day-level route engine operations on top
// of the provider, optimizer, preview and repository layers.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
	"github.com/AdarBahar/MyTrip-sub004/internal/optimizer"
	"github.com/AdarBahar/MyTrip-sub004/internal/preview"
	"github.com/AdarBahar/MyTrip-sub004/internal/provider"
	"github.com/AdarBahar/MyTrip-sub004/pkg/geo"
)

// ─── Errors ─────────────────────────────────────────────────

// Stable error codes surfaced to API clients.
const (
	CodeRouteProviderError     = "ROUTE_PROVIDER_ERROR"
	CodeOptimizationInfeasible = "OPTIMIZATION_INFEASIBLE"
	CodePreviewNotFound        = "PREVIEW_NOT_FOUND"
	CodePreviewExpired         = "PREVIEW_EXPIRED"
	CodeDayNotFound            = "DAY_NOT_FOUND"
	CodePlaceNotFound          = "PLACE_NOT_FOUND"
	CodeVersionNotFound        = "VERSION_NOT_FOUND"
)

// Warnings appended to a breakdown result.
const (
	// WarnDegradedQuality marks a result where two or more legs were
	// estimated instead of routed.
	WarnDegradedQuality = "DEGRADED_QUALITY"
)

// Error is a terminal service failure with a stable code, a message free
// of provider internals, and optional recovery suggestions.
type Error struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// ─── Dependencies ───────────────────────────────────────────

// RouteSource computes a single route; the provider orchestrator
// implements it.
type RouteSource interface {
	ComputeRoute(ctx context.Context, points []model.Location, profile model.Profile, opts model.RouteOptions) (*provider.RouteResult, error)
}

// OrderSolver reorders free vias; the optimizer implements it.
type OrderSolver interface {
	Optimize(ctx context.Context, req optimizer.Request) (*optimizer.Result, error)
}

// PlaceStore resolves referenced places and creates inline ones.
type PlaceStore interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]model.Place, error)
	Upsert(ctx context.Context, place *model.Place) (*model.Place, error)
}

// DayStore checks the target day exists and is live.
type DayStore interface {
	GetDay(ctx context.Context, dayID string) (*model.Day, error)
}

// BreakdownConfig tunes parallelism and lifetimes of the breakdown flow.
type BreakdownConfig struct {
	MaxConcurrency int64         // segment computations in flight
	SoftDeadline   time.Duration // overall budget before partial results
	PreviewTTL     time.Duration // lifetime of an uncommitted preview
}

// DefaultBreakdownConfig returns 8 concurrent segments, a 60 s soft
// deadline, and a 15 minute preview lifetime.
func DefaultBreakdownConfig() BreakdownConfig {
	return BreakdownConfig{
		MaxConcurrency: 8,
		SoftDeadline:   60 * time.Second,
		PreviewTTL:     15 * time.Minute,
	}
}

// ─── Request / Result ───────────────────────────────────────

// StopInput is one stop of a breakdown request. Either PlaceID references
// an existing place, or Name plus Location describe an inline one that is
// created on the fly.
type StopInput struct {
	StopID   string          `json:"stop_id,omitempty"`
	PlaceID  string          `json:"place_id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Address  string          `json:"address,omitempty"`
	Location *model.Location `json:"location,omitempty"`
	Fixed    bool            `json:"fixed,omitempty"`
	FixedSeq int             `json:"fixed_seq,omitempty"`
}

// BreakdownRequest computes a day's route leg by leg.
type BreakdownRequest struct {
	TripID    string             `json:"trip_id"`
	DayID     string             `json:"day_id"`
	Start     StopInput          `json:"start"`
	Stops     []StopInput        `json:"stops"`
	End       StopInput          `json:"end"`
	Optimize  bool               `json:"optimize"`
	Profile   model.Profile      `json:"profile"`
	Objective model.Objective    `json:"objective"`
	Options   model.RouteOptions `json:"options"`
}

// BreakdownResult is a computed but not yet persisted route, held under
// PreviewToken until committed or expired.
type BreakdownResult struct {
	PreviewToken string             `json:"preview_token"`
	ExpiresAt    time.Time          `json:"expires_at"`
	Version      model.RouteVersion `json:"version"`
}

// ─── Service ────────────────────────────────────────────────

// BreakdownService validates a day request, optionally optimizes the stop
// order, fetches legs in parallel, and stores the assembled route as a
// preview.
type BreakdownService struct {
	routes   RouteSource
	solver   OrderSolver
	places   PlaceStore
	days     DayStore
	previews preview.Store
	cfg      BreakdownConfig

	// now is injectable for deterministic expiry in tests.
	now func() time.Time
}

// NewBreakdownService wires the breakdown flow.
func NewBreakdownService(routes RouteSource, solver OrderSolver, places PlaceStore, days DayStore, previews preview.Store, cfg BreakdownConfig) *BreakdownService {
	if cfg.MaxConcurrency <= 0 {
		cfg = DefaultBreakdownConfig()
	}
	return &BreakdownService{
		routes:   routes,
		solver:   solver,
		places:   places,
		days:     days,
		previews: previews,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ComputeDayBreakdown runs the full breakdown flow.
func (s *BreakdownService) ComputeDayBreakdown(ctx context.Context, req BreakdownRequest) (*BreakdownResult, error) {
	if _, err := s.days.GetDay(ctx, req.DayID); err != nil {
		return nil, &Error{Code: CodeDayNotFound, Message: "day not found", cause: err}
	}

	points, err := s.resolvePoints(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := optimizer.Validate(points); err != nil {
		return nil, err
	}

	ordered := points
	var warnings []string
	if req.Optimize {
		res, err := s.solver.Optimize(ctx, optimizer.Request{
			Points:    points,
			Profile:   req.Profile,
			Objective: req.Objective,
		})
		if err != nil {
			if errors.Is(err, optimizer.ErrInfeasible) {
				return nil, &Error{Code: CodeOptimizationInfeasible, Message: "fixed stop positions cannot be satisfied", cause: err}
			}
			return nil, err
		}
		ordered = res.Order
		warnings = append(warnings, res.Warnings...)
	}

	legs, legWarnings, providerName, err := s.computeLegs(ctx, ordered, req.Profile, req.Options)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, legWarnings...)

	totals, geometry := assemble(legs)

	options := req.Options
	options.Optimize = req.Optimize

	version := model.RouteVersion{
		DayID:          req.DayID,
		Profile:        req.Profile,
		Objective:      req.Objective,
		Options:        options,
		OrderedStopIDs: pointIDs(ordered),
		Totals:         totals,
		Legs:           legs,
		Geometry:       geometry,
		Warnings:       warnings,
		ComputedAt:     s.now().UTC(),
		ProviderName:   providerName,
	}

	p := &model.Preview{
		Token:      ulid.Make().String(),
		DayID:      req.DayID,
		ExpiresAt:  s.now().Add(s.cfg.PreviewTTL),
		InputsHash: inputsHash(version.OrderedStopIDs, req.Profile, req.Objective, options),
		Version:    version,
	}
	if err := s.previews.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save preview: %w", err)
	}

	return &BreakdownResult{
		PreviewToken: p.Token,
		ExpiresAt:    p.ExpiresAt,
		Version:      version,
	}, nil
}

// ─── Point Resolution ───────────────────────────────────────

// resolvePoints expands start, vias and end into optimizer points,
// resolving place references in one batch and creating inline places.
func (s *BreakdownService) resolvePoints(ctx context.Context, req BreakdownRequest) ([]optimizer.Point, error) {
	inputs := make([]StopInput, 0, len(req.Stops)+2)
	kinds := make([]model.StopKind, 0, len(req.Stops)+2)

	inputs = append(inputs, req.Start)
	kinds = append(kinds, model.StopStart)
	for _, st := range req.Stops {
		inputs = append(inputs, st)
		kinds = append(kinds, model.StopVia)
	}
	inputs = append(inputs, req.End)
	kinds = append(kinds, model.StopEnd)

	var refIDs []string
	for _, in := range inputs {
		if in.PlaceID != "" {
			refIDs = append(refIDs, in.PlaceID)
		}
	}
	resolved, err := s.places.GetByIDs(ctx, refIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve places: %w", err)
	}

	points := make([]optimizer.Point, len(inputs))
	for i, in := range inputs {
		var loc model.Location
		switch {
		case in.PlaceID != "":
			place, ok := resolved[in.PlaceID]
			if !ok {
				return nil, &Error{Code: CodePlaceNotFound, Message: fmt.Sprintf("place %s not found", in.PlaceID)}
			}
			loc = place.Location
		case in.Location != nil:
			place, err := s.places.Upsert(ctx, &model.Place{
				Name:     in.Name,
				Address:  in.Address,
				Location: *in.Location,
			})
			if err != nil {
				return nil, fmt.Errorf("create place: %w", err)
			}
			loc = place.Location
		default:
			return nil, &optimizer.ValidationError{
				Code:    optimizer.CodeInvalidCoords,
				Field:   requestField(i, len(inputs)),
				Message: "stop needs a place_id or an inline location",
			}
		}

		id := in.StopID
		if id == "" {
			id = ulid.Make().String()
		}
		points[i] = optimizer.Point{
			ID:       id,
			Location: loc,
			Kind:     kinds[i],
			Fixed:    in.Fixed,
			FixedSeq: in.FixedSeq,
		}
	}
	return points, nil
}

// requestField maps an expanded point index back to the caller's field:
// index 0 is the start, the last index is the end, everything between is a
// zero-based via position.
func requestField(i, total int) string {
	switch i {
	case 0:
		return "start"
	case total - 1:
		return "end"
	}
	return fmt.Sprintf("stops[%d]", i-1)
}

// ─── Leg Computation ────────────────────────────────────────

// legSlot is the unit of parallel work: one consecutive stop pair.
type legSlot struct {
	leg      model.Leg
	provider string
	routed   bool // served by a road-network adapter
	warnings []string
}

// computeLegs fetches every consecutive pair concurrently, bounded by the
// semaphore, and assembles results by pair index so completion order never
// affects the output. A leg that cannot be routed is filled from the
// straight-line estimate and tagged. When the soft deadline cancels
// pending legs, the partial result stands only if at least 80% of legs
// were routed.
func (s *BreakdownService) computeLegs(ctx context.Context, ordered []optimizer.Point, profile model.Profile, opts model.RouteOptions) ([]model.Leg, []string, string, error) {
	legCtx, cancel := context.WithTimeout(ctx, s.cfg.SoftDeadline)
	defer cancel()

	n := len(ordered) - 1
	slots := make([]legSlot, n)
	sem := semaphore.NewWeighted(s.cfg.MaxConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if err := sem.Acquire(legCtx, 1); err != nil {
			// Deadline hit while queueing; fill the remainder.
			for j := i; j < n; j++ {
				slots[j] = estimateSlot(ordered[j], ordered[j+1], profile)
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			slots[i] = s.computeLeg(legCtx, ordered[i], ordered[i+1], profile, opts)
		}(i)
	}
	wg.Wait()

	routed := 0
	for _, slot := range slots {
		if slot.routed {
			routed++
		}
	}

	if legCtx.Err() != nil && ctx.Err() == nil {
		// Soft deadline exceeded: keep the partial result only when most
		// legs made it through the network.
		if routed*5 < n*4 {
			return nil, nil, "", &Error{
				Code:        CodeRouteProviderError,
				Message:     "routing providers unavailable, breakdown exceeded its deadline",
				Suggestions: []string{"try again in a few minutes"},
				cause:       legCtx.Err(),
			}
		}
	}
	if ctx.Err() != nil {
		return nil, nil, "", ctx.Err()
	}

	legs := make([]model.Leg, n)
	var warnings []string
	estimated := 0
	for i, slot := range slots {
		legs[i] = slot.leg
		warnings = append(warnings, slot.warnings...)
		if !slot.routed {
			estimated++
		}
	}
	if estimated >= 2 {
		warnings = append(warnings, WarnDegradedQuality)
	}

	return legs, warnings, dominantProvider(slots), nil
}

// computeLeg routes one stop pair, replacing non-finite or negative
// metrics with the straight-line estimate.
func (s *BreakdownService) computeLeg(ctx context.Context, from, to optimizer.Point, profile model.Profile, opts model.RouteOptions) legSlot {
	result, err := s.routes.ComputeRoute(ctx, []model.Location{from.Location, to.Location}, profile, opts)
	if err != nil {
		log.Printf("[breakdown] leg %s→%s failed, estimating: %v", from.ID, to.ID, err)
		return estimateSlot(from, to, profile)
	}

	if !finiteMetrics(result.DistanceKm, result.DurationMin) {
		log.Printf("[breakdown] leg %s→%s returned invalid metrics, estimating", from.ID, to.ID)
		slot := estimateSlot(from, to, profile)
		slot.warnings = append(slot.warnings, fmt.Sprintf("invalid segment metrics on leg %s→%s", from.ID, to.ID))
		return slot
	}

	geometry := result.Geometry
	slot := legSlot{
		leg: model.Leg{
			FromStopID:  from.ID,
			ToStopID:    to.ID,
			DistanceKm:  result.DistanceKm,
			DurationMin: result.DurationMin,
			Geometry:    &geometry,
		},
		provider: result.Provider,
		routed:   result.Provider != provider.HaversineName,
	}
	for _, w := range result.Warnings {
		if w == provider.FallbackWarning {
			slot.warnings = append(slot.warnings, fmt.Sprintf("%s on leg %s→%s", provider.FallbackWarning, from.ID, to.ID))
		} else {
			slot.warnings = append(slot.warnings, w)
		}
	}
	return slot
}

// estimateSlot fills a leg from great-circle distance and the speed table.
func estimateSlot(from, to optimizer.Point, profile model.Profile) legSlot {
	km := geo.HaversineKm(from.Location, to.Location)
	ls := model.NewLineString([]model.Location{from.Location, to.Location})
	return legSlot{
		leg: model.Leg{
			FromStopID:  from.ID,
			ToStopID:    to.ID,
			DistanceKm:  km,
			DurationMin: geo.EstimateMinutes(profile, from.Location, to.Location),
			Geometry:    &ls,
		},
		provider: provider.HaversineName,
		warnings: []string{fmt.Sprintf("%s on leg %s→%s", provider.FallbackWarning, from.ID, to.ID)},
	}
}

// ─── Assembly ───────────────────────────────────────────────

// assemble sums leg metrics and stitches leg geometries into a single
// LineString, dropping the shared boundary vertex between legs.
func assemble(legs []model.Leg) (model.Totals, model.LineString) {
	var totals model.Totals
	lines := make([]model.LineString, 0, len(legs))
	for _, leg := range legs {
		totals.DistanceKm += leg.DistanceKm
		totals.DurationMin += leg.DurationMin
		if leg.Geometry != nil {
			lines = append(lines, *leg.Geometry)
		}
	}
	return totals, geo.StitchLineStrings(lines)
}

// dominantProvider picks the adapter that served the most legs; ties go to
// the lexicographically smaller name so results stay deterministic.
func dominantProvider(slots []legSlot) string {
	counts := make(map[string]int)
	for _, slot := range slots {
		counts[slot.provider]++
	}
	best, bestCount := provider.HaversineName, 0
	for name, c := range counts {
		if c > bestCount || (c == bestCount && name < best) {
			best, bestCount = name, c
		}
	}
	return best
}

func finiteMetrics(values ...float64) bool {
	for _, v := range values {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func pointIDs(points []optimizer.Point) []string {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	return ids
}

// inputsHash fingerprints the committed inputs so retries of an identical
// request can be correlated with an existing preview.
func inputsHash(orderedIDs []string, profile model.Profile, objective model.Objective, opts model.RouteOptions) string {
	payload, _ := json.Marshal(struct {
		IDs       []string           `json:"ids"`
		Profile   model.Profile      `json:"profile"`
		Objective model.Objective    `json:"objective"`
		Options   model.RouteOptions `json:"options"`
	}{orderedIDs, profile, objective, opts})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
