// Package optimizer reorders a day's stops to minimize total time or
// distance while honoring the fixed bookends and any position-pinned vias.
//
// Strategy by problem size (N including bookends):
//
//	N ≤ 8          exact enumeration of free-via permutations
//	9 ≤ N ≤ 20     one N×N matrix, greedy construction + 2-opt improvement
//	N > 20         nearest-neighbor on haversine estimates, no 2-opt
//
// A matrix failure at any size degrades to the nearest-neighbor path.
// All tie-breaks are lexicographic over stop ids, so identical inputs
// always produce identical orderings.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
	"github.com/AdarBahar/MyTrip-sub004/internal/provider"
	"github.com/AdarBahar/MyTrip-sub004/pkg/geo"
)

// ─── Thresholds & Errors ────────────────────────────────────

const (
	// ExactMaxPoints is the largest N solved by exhaustive enumeration.
	ExactMaxPoints = 8

	// MatrixMaxPoints is the largest N routed through a provider matrix.
	MatrixMaxPoints = 20

	// DefaultBudget bounds a single optimization run. On budget overrun the
	// best-so-far ordering is returned with a warning, not an error.
	DefaultBudget = 10 * time.Second

	// maxTwoOptPasses bounds the improvement loop.
	maxTwoOptPasses = 200
)

// TimeoutWarning is attached when the internal budget cut optimization short.
const TimeoutWarning = "optimization budget exceeded, returning best-so-far ordering"

// ErrInfeasible is returned when the fixed-position constraints cannot all
// be satisfied.
var ErrInfeasible = errors.New("optimization infeasible: fixed-position constraints cannot be satisfied")

// ─── Validation ─────────────────────────────────────────────

// Validation error codes, stable across releases.
const (
	CodeInvalidCoords    = "VALIDATION_INVALID_COORDS"
	CodeMissingStart     = "VALIDATION_MISSING_START"
	CodeMissingEnd       = "VALIDATION_MISSING_END"
	CodeMultipleStart    = "VALIDATION_MULTIPLE_START"
	CodeMultipleEnd      = "VALIDATION_MULTIPLE_END"
	CodeFixedSeqConflict = "VALIDATION_FIXED_SEQ_CONFLICT"
	CodeDuplicateID      = "VALIDATION_DUPLICATE_ID"
	CodeTooFewPoints     = "VALIDATION_TOO_FEW_POINTS"
)

// ValidationError rejects a request before any provider call.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ─── Input / Output ─────────────────────────────────────────

// Point is one stop presented to the optimizer.
type Point struct {
	ID       string
	Location model.Location
	Kind     model.StopKind
	Fixed    bool // via pinned to its input position
	FixedSeq int  // 1-based pinned position; 0 = unpinned
}

// Request is a full optimization problem.
type Request struct {
	Points    []Point
	Profile   model.Profile
	Objective model.Objective
	Budget    time.Duration // 0 = DefaultBudget
}

// Result is the optimizer's answer: a total ordering plus totals for both
// metrics as scored by the matrix used.
type Result struct {
	Order    []Point
	Totals   model.Totals
	Warnings []string
}

// OrderedIDs returns the stop ids in result order.
func (r *Result) OrderedIDs() []string {
	ids := make([]string, len(r.Order))
	for i, p := range r.Order {
		ids[i] = p.ID
	}
	return ids
}

// MatrixSource supplies N×N metrics; the provider orchestrator implements it.
type MatrixSource interface {
	ComputeMatrix(ctx context.Context, points []model.Location, profile model.Profile, objective model.Objective) (*provider.Matrix, []string, error)
}

// ─── Optimizer ──────────────────────────────────────────────

// Optimizer solves the constrained ordering problem.
type Optimizer struct {
	matrices MatrixSource
}

// New creates an optimizer backed by the given matrix source.
func New(matrices MatrixSource) *Optimizer {
	return &Optimizer{matrices: matrices}
}

// Optimize validates the request and returns the minimizing ordering.
//
// Complexity: O(F!) for N ≤ 8 (F = free vias ≤ 6), O(passes × N²) for the
// matrix heuristic, O(N²) for the nearest-neighbor fallback.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(req.Points); err != nil {
		return nil, err
	}

	budget := req.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	deadline := time.Now().Add(budget)

	n := len(req.Points)
	prob, err := buildProblem(req.Points)
	if err != nil {
		return nil, err
	}

	// Nothing to reorder: bookends only, or every via pinned. Still score
	// the fixed order so the caller gets totals.
	if len(prob.free) == 0 {
		matrix, warnings, err := o.matrices.ComputeMatrix(ctx, locations(req.Points), req.Profile, req.Objective)
		if err != nil {
			return o.nearestNeighbor(prob, req), nil
		}
		res := prob.scoreIndices(prob.slots, matrix)
		res.Warnings = append(res.Warnings, warnings...)
		return res, nil
	}

	if n > MatrixMaxPoints {
		return o.nearestNeighbor(prob, req), nil
	}

	matrix, warnings, err := o.matrices.ComputeMatrix(ctx, locations(req.Points), req.Profile, req.Objective)
	if err != nil {
		log.Printf("[optimizer] matrix unavailable, using nearest-neighbor fallback: %v", err)
		return o.nearestNeighbor(prob, req), nil
	}

	var result *Result
	if n <= ExactMaxPoints {
		result = o.exact(ctx, prob, req.Objective, matrix, deadline)
	} else {
		result = o.heuristic(ctx, prob, req.Objective, matrix, deadline)
	}

	result.Warnings = append(result.Warnings, warnings...)
	return result, nil
}

// ─── Validation Rules ───────────────────────────────────────

// Validate checks the request against the ordering rules: exactly one
// start and one end, unique ids, in-range coordinates, consistent fixed
// positions.
func Validate(points []Point) error {
	if len(points) < 2 {
		return &ValidationError{Code: CodeTooFewPoints,
			Message: fmt.Sprintf("need at least 2 points, got %d", len(points))}
	}

	n := len(points)
	starts, ends := 0, 0
	seen := make(map[string]bool, n)
	pinned := make(map[int]string, n)

	for i, p := range points {
		field := fmt.Sprintf("points[%d]", i)

		if p.ID == "" || seen[p.ID] {
			return &ValidationError{Code: CodeDuplicateID, Field: field,
				Message: fmt.Sprintf("stop id %q is empty or duplicated", p.ID)}
		}
		seen[p.ID] = true

		if !p.Location.InRange() {
			return &ValidationError{Code: CodeInvalidCoords, Field: field,
				Message: fmt.Sprintf("coordinates (%v, %v) out of range", p.Location.Lat, p.Location.Lon)}
		}

		switch p.Kind {
		case model.StopStart:
			starts++
			if p.FixedSeq != 0 && p.FixedSeq != 1 {
				return &ValidationError{Code: CodeFixedSeqConflict, Field: field,
					Message: "start must have fixed_seq 1"}
			}
		case model.StopEnd:
			ends++
		case model.StopVia:
			if p.FixedSeq != 0 {
				if p.FixedSeq < 2 || p.FixedSeq > n-1 {
					return &ValidationError{Code: CodeFixedSeqConflict, Field: field,
						Message: fmt.Sprintf("via fixed_seq %d out of range [2, %d]", p.FixedSeq, n-1)}
				}
				if other, dup := pinned[p.FixedSeq]; dup {
					return &ValidationError{Code: CodeFixedSeqConflict, Field: field,
						Message: fmt.Sprintf("fixed_seq %d claimed by both %q and %q", p.FixedSeq, other, p.ID)}
				}
				pinned[p.FixedSeq] = p.ID
			}
		}
	}

	switch {
	case starts == 0:
		return &ValidationError{Code: CodeMissingStart, Message: "exactly one start stop is required"}
	case starts > 1:
		return &ValidationError{Code: CodeMultipleStart, Message: fmt.Sprintf("%d start stops given", starts)}
	case ends == 0:
		return &ValidationError{Code: CodeMissingEnd, Message: "exactly one end stop is required"}
	case ends > 1:
		return &ValidationError{Code: CodeMultipleEnd, Message: fmt.Sprintf("%d end stops given", ends)}
	}

	return nil
}

// ─── Problem Skeleton ───────────────────────────────────────

// problem is the validated request reshaped for solving: the slot skeleton
// (1-based positions, start at 1, end at N, pinned vias in place) plus the
// free vias that fill the remaining interior slots.
type problem struct {
	points []Point
	slots  []int // slots[pos-1] = points index, -1 when free
	free   []int // points indices of unpinned vias, sorted by id
}

func buildProblem(points []Point) (*problem, error) {
	n := len(points)
	p := &problem{
		points: points,
		slots:  make([]int, n),
	}
	for i := range p.slots {
		p.slots[i] = -1
	}

	// Pass 1: bookends and explicitly pinned vias claim their slots.
	pinnedCount := 0
	for i, pt := range points {
		switch {
		case pt.Kind == model.StopStart:
			p.slots[0] = i
		case pt.Kind == model.StopEnd:
			p.slots[n-1] = i
		case pt.FixedSeq != 0:
			if p.slots[pt.FixedSeq-1] != -1 {
				return nil, ErrInfeasible
			}
			p.slots[pt.FixedSeq-1] = i
			pinnedCount++
		}
	}

	// Pass 2: fixed=true with no explicit seq pins a via to its input
	// position. A pin already holding that slot is a constraint conflict.
	for i, pt := range points {
		if pt.Kind != model.StopVia || pt.FixedSeq != 0 {
			continue
		}
		if pt.Fixed {
			if p.slots[i] != -1 && p.slots[i] != i {
				return nil, ErrInfeasible
			}
			p.slots[i] = i
			pinnedCount++
			continue
		}
		p.free = append(p.free, i)
	}

	if pinnedCount > n-2 {
		return nil, ErrInfeasible
	}

	// Deterministic free ordering.
	sort.Slice(p.free, func(a, b int) bool {
		return points[p.free[a]].ID < points[p.free[b]].ID
	})

	return p, nil
}

// freeSlots returns the interior positions (0-based) not taken by pins.
func (p *problem) freeSlots() []int {
	var out []int
	for pos := 1; pos < len(p.slots)-1; pos++ {
		if p.slots[pos] == -1 {
			out = append(out, pos)
		}
	}
	return out
}

// ─── Scoring ────────────────────────────────────────────────

func locations(points []Point) []model.Location {
	locs := make([]model.Location, len(points))
	for i, p := range points {
		locs[i] = p.Location
	}
	return locs
}

// metric returns the objective value between two point indices.
func metric(m *provider.Matrix, objective model.Objective, i, j int) float64 {
	if objective == model.ObjectiveDistance {
		return m.DistanceKm[i][j]
	}
	return m.DurationMin[i][j]
}

// tourCost scores an ordering of point indices under the objective.
func (p *problem) tourCost(m *provider.Matrix, objective model.Objective, order []int) float64 {
	cost := 0.0
	for i := 0; i < len(order)-1; i++ {
		cost += metric(m, objective, order[i], order[i+1])
	}
	return cost
}

// scoreIndices builds a Result from an index ordering, with both totals
// read off the matrix.
func (p *problem) scoreIndices(order []int, m *provider.Matrix) *Result {
	res := &Result{Order: make([]Point, len(order))}
	for i, idx := range order {
		res.Order[i] = p.points[idx]
	}
	if m != nil {
		for i := 0; i < len(order)-1; i++ {
			res.Totals.DistanceKm += m.DistanceKm[order[i]][order[i+1]]
			res.Totals.DurationMin += m.DurationMin[order[i]][order[i+1]]
		}
	}
	return res
}

// ─── Exact (N ≤ 8) ─────────────────────────────────────────

// exact enumerates every permutation of the free vias over the free slots
// and keeps the cheapest, breaking ties lexicographically on the id
// sequence of the full ordering.
func (o *Optimizer) exact(ctx context.Context, p *problem, objective model.Objective, m *provider.Matrix, deadline time.Time) *Result {
	freeSlots := p.freeSlots()

	best := make([]int, len(p.free))
	copy(best, p.free)
	bestOrder := p.indicesFor(best, freeSlots)
	bestCost := p.tourCost(m, objective, bestOrder)

	current := make([]int, len(p.free))
	copy(current, p.free)

	timedOut := !permute(current, 0, func(assignment []int) bool {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return false
		}
		order := p.indicesFor(assignment, freeSlots)
		cost := p.tourCost(m, objective, order)
		if cost < bestCost || (cost == bestCost && lessIDs(p, order, bestOrder)) {
			bestCost = cost
			copy(best, assignment)
			bestOrder = order
		}
		return true
	})

	res := p.scoreIndices(bestOrder, m)
	if timedOut {
		res.Warnings = append(res.Warnings, TimeoutWarning)
	}
	return res
}

// indicesFor expands an assignment of free vias into a full index ordering.
func (p *problem) indicesFor(assignment []int, freeSlots []int) []int {
	order := make([]int, len(p.slots))
	copy(order, p.slots)
	for k, pos := range freeSlots {
		order[pos] = assignment[k]
	}
	return order
}

// permute runs visit for every permutation of a (in place, restoring a).
// visit returning false stops the walk; permute then returns false.
func permute(a []int, k int, visit func([]int) bool) bool {
	if k == len(a) {
		return visit(a)
	}
	for i := k; i < len(a); i++ {
		a[k], a[i] = a[i], a[k]
		if !permute(a, k+1, visit) {
			a[k], a[i] = a[i], a[k]
			return false
		}
		a[k], a[i] = a[i], a[k]
	}
	return true
}

func lessIDs(p *problem, a, b []int) bool {
	for i := range a {
		if p.points[a[i]].ID != p.points[b[i]].ID {
			return p.points[a[i]].ID < p.points[b[i]].ID
		}
	}
	return false
}

// ─── Matrix Heuristic (9 ≤ N ≤ 20) ─────────────────────────

// heuristic runs greedy construction then 2-opt improvement with pinned
// positions held invariant.
func (o *Optimizer) heuristic(ctx context.Context, p *problem, objective model.Objective, m *provider.Matrix, deadline time.Time) *Result {
	order := p.greedy(objective, m)

	timedOut := p.twoOpt(ctx, order, objective, m, deadline)

	res := p.scoreIndices(order, m)
	if timedOut {
		res.Warnings = append(res.Warnings, TimeoutWarning)
	}
	return res
}

// greedy fills free slots in position order, always taking the nearest
// remaining free via from the previous stop. Pinned slots are part of the
// skeleton and act as waypoints the walk passes through.
func (p *problem) greedy(objective model.Objective, m *provider.Matrix) []int {
	n := len(p.slots)
	order := make([]int, n)
	copy(order, p.slots)

	remaining := make([]int, len(p.free))
	copy(remaining, p.free)

	for pos := 1; pos < n-1; pos++ {
		if order[pos] != -1 {
			continue
		}

		prev := order[pos-1]
		bestK := 0
		for k := 1; k < len(remaining); k++ {
			c, b := metric(m, objective, prev, remaining[k]), metric(m, objective, prev, remaining[bestK])
			if c < b || (c == b && p.points[remaining[k]].ID < p.points[remaining[bestK]].ID) {
				bestK = k
			}
		}

		order[pos] = remaining[bestK]
		remaining = append(remaining[:bestK], remaining[bestK+1:]...)
	}

	return order
}

// twoOpt improves order in place by reversing sub-tours whose interior
// contains no pinned position. It yields between passes so cancellation is
// observed in bounded time. Returns true when the deadline cut it short.
func (p *problem) twoOpt(ctx context.Context, order []int, objective model.Objective, m *provider.Matrix, deadline time.Time) bool {
	n := len(order)

	movable := make([]bool, n)
	for pos := 1; pos < n-1; pos++ {
		movable[pos] = p.slots[pos] == -1
	}

	for pass := 0; pass < maxTwoOptPasses; pass++ {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return true
		}

		improved := false
		for i := 1; i < n-2; i++ {
			if !movable[i] {
				continue
			}
			for j := i + 1; j < n-1; j++ {
				if !movable[j] {
					break // a pin inside [i..j] forbids the reversal
				}

				// Delta of reversing order[i..j].
				before := metric(m, objective, order[i-1], order[i]) +
					metric(m, objective, order[j], order[j+1])
				after := metric(m, objective, order[i-1], order[j]) +
					metric(m, objective, order[i], order[j+1])

				if after < before-1e-12 {
					reverse(order, i, j)
					improved = true
				}
			}
		}

		if !improved {
			return false
		}
	}
	return false
}

func reverse(a []int, i, j int) {
	for i < j {
		a[i], a[j] = a[j], a[i]
		i++
		j--
	}
}

// ─── Nearest-Neighbor Fallback ──────────────────────────────

// nearestNeighbor handles N > 20 and matrix outages: greedy construction on
// per-pair haversine estimates, pinned slots honored, no 2-opt.
func (o *Optimizer) nearestNeighbor(p *problem, req Request) *Result {
	n := len(p.points)

	est := provider.NewMatrix(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			km := geo.HaversineKm(p.points[i].Location, p.points[j].Location)
			est.DistanceKm[i][j] = km
			est.DurationMin[i][j] = km / geo.SpeedKmph(req.Profile, km) * 60.0
		}
	}

	order := p.greedy(req.Objective, est)
	return p.scoreIndices(order, est)
}
