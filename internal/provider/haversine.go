package provider

import (
	"context"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
	"github.com/AdarBahar/MyTrip-sub004/pkg/geo"
)

// HaversineName is the provider name stamped on fallback results.
const HaversineName = "haversine"

// HaversineProvider is the in-process fallback adapter. Distances come from
// the great-circle formula; durations from the per-profile speed table in
// pkg/geo. Geometry is a straight two-vertex LineString per segment.
//
// It never fails and is never circuit-broken.
type HaversineProvider struct{}

// NewHaversineProvider creates the fallback adapter.
func NewHaversineProvider() *HaversineProvider {
	return &HaversineProvider{}
}

// Name implements Provider.
func (p *HaversineProvider) Name() string { return HaversineName }

// ComputeRoute estimates the route as straight segments between the points.
func (p *HaversineProvider) ComputeRoute(_ context.Context, points []model.Location, profile model.Profile, _ model.RouteOptions) (*RouteResult, error) {
	if len(points) < 2 {
		return &RouteResult{Geometry: model.NewLineString(points)}, nil
	}

	result := &RouteResult{
		Legs: make([]LegResult, 0, len(points)-1),
	}

	for i := 0; i < len(points)-1; i++ {
		km := geo.HaversineKm(points[i], points[i+1])
		min := km / geo.SpeedKmph(profile, km) * 60.0

		seg := model.NewLineString([]model.Location{points[i], points[i+1]})
		result.Legs = append(result.Legs, LegResult{
			DistanceKm:  km,
			DurationMin: min,
			Geometry:    &seg,
		})
		result.DistanceKm += km
		result.DurationMin += min
	}

	result.Geometry = model.NewLineString(points)
	return result, nil
}

// ComputeMatrix estimates all pairs. The diagonal is zero.
func (p *HaversineProvider) ComputeMatrix(_ context.Context, points []model.Location, profile model.Profile, _ model.Objective) (*Matrix, error) {
	n := len(points)
	m := NewMatrix(n)

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

	return m, nil
}
