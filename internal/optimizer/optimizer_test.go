package optimizer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
	"github.com/AdarBahar/MyTrip-sub004/internal/provider"
	"github.com/AdarBahar/MyTrip-sub004/pkg/geo"
)

// haversineMatrixSource scores pairs by great-circle distance so tests are
// deterministic without a network provider.
type haversineMatrixSource struct {
	calls int
	fail  bool
}

func (s *haversineMatrixSource) ComputeMatrix(_ context.Context, points []model.Location, profile model.Profile, _ model.Objective) (*provider.Matrix, []string, error) {
	s.calls++
	if s.fail {
		return nil, nil, errors.New("matrix endpoint down")
	}
	n := len(points)
	m := provider.NewMatrix(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			km := geo.HaversineKm(points[i], points[j])
			m.DistanceKm[i][j] = km
			m.DurationMin[i][j] = km / geo.SpeedKmph(profile, km) * 60.0
		}
	}
	return m, nil, nil
}

// loc places a point on a west-to-east line; index spacing ≈ 1.11 km.
func loc(i int) model.Location {
	return model.Location{Lat: 32.0, Lon: 34.0 + float64(i)*0.01}
}

func start(id string, i int) Point {
	return Point{ID: id, Location: loc(i), Kind: model.StopStart}
}

func end(id string, i int) Point {
	return Point{ID: id, Location: loc(i), Kind: model.StopEnd}
}

func via(id string, i int) Point {
	return Point{ID: id, Location: loc(i), Kind: model.StopVia}
}

func carRequest(points ...Point) Request {
	return Request{Points: points, Profile: model.ProfileCar, Objective: model.ObjectiveTime}
}

// ─── Validation ─────────────────────────────────────────────

func TestValidate_Codes(t *testing.T) {
	cases := []struct {
		name     string
		points   []Point
		wantCode string
	}{
		{"too few", []Point{start("s", 0)}, CodeTooFewPoints},
		{"missing start", []Point{via("a", 1), end("e", 2)}, CodeMissingStart},
		{"missing end", []Point{start("s", 0), via("a", 1)}, CodeMissingEnd},
		{"multiple start", []Point{start("s", 0), start("s2", 1), end("e", 2)}, CodeMultipleStart},
		{"multiple end", []Point{start("s", 0), end("e", 1), end("e2", 2)}, CodeMultipleEnd},
		{"duplicate id", []Point{start("s", 0), via("s", 1), end("e", 2)}, CodeDuplicateID},
		{"empty id", []Point{start("", 0), end("e", 1)}, CodeDuplicateID},
		{
			"bad coords",
			[]Point{start("s", 0), {ID: "a", Location: model.Location{Lat: 91, Lon: 0}, Kind: model.StopVia}, end("e", 2)},
			CodeInvalidCoords,
		},
		{
			"fixed_seq out of range",
			[]Point{start("s", 0), {ID: "a", Location: loc(1), Kind: model.StopVia, FixedSeq: 4}, end("e", 2)},
			CodeFixedSeqConflict,
		},
		{
			"fixed_seq collision",
			[]Point{
				start("s", 0),
				{ID: "a", Location: loc(1), Kind: model.StopVia, FixedSeq: 2},
				{ID: "b", Location: loc(2), Kind: model.StopVia, FixedSeq: 2},
				end("e", 3),
			},
			CodeFixedSeqConflict,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := Validate(c.points)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, c.wantCode, verr.Code)
		})
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, Validate([]Point{start("s", 0), via("a", 1), end("e", 2)}))
	assert.NoError(t, Validate([]Point{start("s", 0), end("e", 1)}))
}

// ─── Ordering ───────────────────────────────────────────────

func TestOptimize_BookendsPreserved(t *testing.T) {
	o := New(&haversineMatrixSource{})

	res, err := o.Optimize(context.Background(), carRequest(
		start("s", 0), via("c", 3), via("a", 1), via("b", 2), end("e", 4),
	))
	require.NoError(t, err)

	ids := res.OrderedIDs()
	assert.Equal(t, "s", ids[0])
	assert.Equal(t, "e", ids[len(ids)-1])
}

func TestOptimize_ExactFindsShortestOrder(t *testing.T) {
	o := New(&haversineMatrixSource{})

	// Vias given shuffled; on a line the cheapest walk visits them in
	// geographic order.
	res, err := o.Optimize(context.Background(), carRequest(
		start("s", 0), via("c", 3), via("a", 1), via("b", 2), end("e", 4),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"s", "a", "b", "c", "e"}, res.OrderedIDs())
	assert.Greater(t, res.Totals.DistanceKm, 0.0)
	assert.Greater(t, res.Totals.DurationMin, 0.0)
}

func TestOptimize_FixedSeqHeld(t *testing.T) {
	o := New(&haversineMatrixSource{})

	// Pin "c" to position 2 even though it is geographically last.
	res, err := o.Optimize(context.Background(), carRequest(
		start("s", 0),
		via("a", 1),
		via("b", 2),
		Point{ID: "c", Location: loc(3), Kind: model.StopVia, FixedSeq: 2},
		end("e", 4),
	))
	require.NoError(t, err)

	assert.Equal(t, "c", res.OrderedIDs()[1], "fixed_seq=2 must hold position 2")
}

func TestOptimize_FixedViaStaysAtInputPosition(t *testing.T) {
	o := New(&haversineMatrixSource{})

	// "far" sits at input position 2 with fixed=true; the optimizer may not
	// move it even though doing so would shorten the tour.
	res, err := o.Optimize(context.Background(), carRequest(
		start("s", 0),
		Point{ID: "far", Location: loc(5), Kind: model.StopVia, Fixed: true},
		via("a", 1),
		via("b", 2),
		end("e", 6),
	))
	require.NoError(t, err)

	assert.Equal(t, "far", res.OrderedIDs()[1])
}

func TestOptimize_Deterministic(t *testing.T) {
	o := New(&haversineMatrixSource{})

	req := carRequest(
		start("s", 0), via("d", 4), via("b", 2), via("a", 1), via("c", 3), end("e", 5),
	)

	first, err := o.Optimize(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := o.Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first.OrderedIDs(), again.OrderedIDs(), "identical inputs must give identical orderings")
	}
}

func TestOptimize_TieBreakLexicographic(t *testing.T) {
	o := New(&haversineMatrixSource{})

	// Two vias at the same location cost the same either way around; the
	// id-lexicographic order must win.
	same := loc(1)
	res, err := o.Optimize(context.Background(), carRequest(
		start("s", 0),
		Point{ID: "zz", Location: same, Kind: model.StopVia},
		Point{ID: "aa", Location: same, Kind: model.StopVia},
		end("e", 2),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"s", "aa", "zz", "e"}, res.OrderedIDs())
}

func TestOptimize_Infeasible(t *testing.T) {
	o := New(&haversineMatrixSource{})

	// Both vias pinned: one by fixed_seq=2, the other by fixed=true at
	// input position 1 (the same slot).
	_, err := o.Optimize(context.Background(), carRequest(
		start("s", 0),
		Point{ID: "a", Location: loc(1), Kind: model.StopVia, Fixed: true},
		Point{ID: "b", Location: loc(2), Kind: model.StopVia, FixedSeq: 2},
		end("e", 3),
	))
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestOptimize_HeuristicRange(t *testing.T) {
	src := &haversineMatrixSource{}
	o := New(src)

	// 12 points: above the exact cutoff, inside the matrix range. Shuffled
	// vias on a line must come back sorted.
	points := []Point{start("s", 0)}
	for _, i := range []int{7, 2, 9, 4, 1, 8, 3, 10, 5, 6} {
		points = append(points, via(fmt.Sprintf("v%02d", i), i))
	}
	points = append(points, end("e", 11))

	res, err := o.Optimize(context.Background(), carRequest(points...))
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)

	want := []string{"s"}
	for i := 1; i <= 10; i++ {
		want = append(want, fmt.Sprintf("v%02d", i))
	}
	want = append(want, "e")
	assert.Equal(t, want, res.OrderedIDs())
}

func TestOptimize_BudgetExceededReturnsBestSoFar(t *testing.T) {
	o := New(&haversineMatrixSource{})

	// A budget too small for even one improvement pass must still yield a
	// complete ordering, flagged with the timeout warning instead of failing.
	points := []Point{start("s", 0)}
	for _, i := range []int{7, 2, 9, 4, 1, 8, 3, 10, 5, 6} {
		points = append(points, via(fmt.Sprintf("v%02d", i), i))
	}
	points = append(points, end("e", 11))

	req := carRequest(points...)
	req.Budget = time.Nanosecond

	res, err := o.Optimize(context.Background(), req)
	require.NoError(t, err, "budget overruns degrade, they do not fail")

	ids := res.OrderedIDs()
	require.Len(t, ids, len(points))
	assert.Equal(t, "s", ids[0])
	assert.Equal(t, "e", ids[len(ids)-1])
	assert.Contains(t, res.Warnings, TimeoutWarning)

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, len(points), "every stop appears exactly once")
}

func TestOptimize_BudgetExceededExactRange(t *testing.T) {
	o := New(&haversineMatrixSource{})

	req := carRequest(
		start("s", 0), via("c", 3), via("a", 1), via("b", 2), end("e", 4),
	)
	req.Budget = time.Nanosecond

	res, err := o.Optimize(context.Background(), req)
	require.NoError(t, err)

	ids := res.OrderedIDs()
	assert.Equal(t, "s", ids[0])
	assert.Equal(t, "e", ids[len(ids)-1])
	assert.Contains(t, res.Warnings, TimeoutWarning)
}

func TestOptimize_LargeInputSkipsMatrix(t *testing.T) {
	src := &haversineMatrixSource{}
	o := New(src)

	points := []Point{start("s", 0)}
	for i := 1; i <= 21; i++ {
		points = append(points, via(fmt.Sprintf("v%02d", i), i))
	}
	points = append(points, end("e", 22))
	require.Greater(t, len(points), MatrixMaxPoints)

	res, err := o.Optimize(context.Background(), carRequest(points...))
	require.NoError(t, err)

	assert.Equal(t, 0, src.calls, "oversized requests must not hit the matrix endpoint")
	ids := res.OrderedIDs()
	assert.Equal(t, "s", ids[0])
	assert.Equal(t, "e", ids[len(ids)-1])
	assert.Len(t, ids, 23)
}

func TestOptimize_MatrixOutageFallsBack(t *testing.T) {
	o := New(&haversineMatrixSource{fail: true})

	res, err := o.Optimize(context.Background(), carRequest(
		start("s", 0), via("b", 2), via("a", 1), end("e", 3),
	))
	require.NoError(t, err, "matrix outage must degrade to the estimate, not fail")

	assert.Equal(t, []string{"s", "a", "b", "e"}, res.OrderedIDs())
}

func TestOptimize_NoFreeViasStillScores(t *testing.T) {
	src := &haversineMatrixSource{}
	o := New(src)

	res, err := o.Optimize(context.Background(), carRequest(start("s", 0), end("e", 3)))
	require.NoError(t, err)

	assert.Equal(t, []string{"s", "e"}, res.OrderedIDs())
	assert.Greater(t, res.Totals.DistanceKm, 0.0)
}

func TestOptimize_ValidationRejectedBeforeMatrixCall(t *testing.T) {
	src := &haversineMatrixSource{}
	o := New(src)

	_, err := o.Optimize(context.Background(), carRequest(start("s", 0)))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, src.calls)
}
