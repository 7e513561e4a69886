package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

func TestHaversineProvider_ComputeRoute(t *testing.T) {
	p := NewHaversineProvider()

	res, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})
	require.NoError(t, err)

	require.Len(t, res.Legs, 1)
	assert.InDelta(t, 54.2, res.DistanceKm, 1.0, "TLV→JLM great-circle distance")
	assert.Greater(t, res.DurationMin, 0.0)
	assert.Len(t, res.Geometry.Coordinates, 2)
}

func TestHaversineProvider_ComputeRoute_DegeneratePoints(t *testing.T) {
	p := NewHaversineProvider()

	for _, points := range [][]model.Location{nil, {}, {testPoints()[0]}} {
		res, err := p.ComputeRoute(context.Background(), points, model.ProfileCar, model.RouteOptions{})
		require.NoError(t, err, "the fallback adapter never fails")
		assert.Empty(t, res.Legs)
		assert.Zero(t, res.DistanceKm)
		assert.Zero(t, res.DurationMin)
	}
}

func TestHaversineProvider_ComputeMatrix(t *testing.T) {
	p := NewHaversineProvider()

	m, err := p.ComputeMatrix(context.Background(), testPoints(), model.ProfileCar, model.ObjectiveTime)
	require.NoError(t, err)

	assert.Zero(t, m.DistanceKm[0][0])
	assert.Zero(t, m.DistanceKm[1][1])
	assert.InDelta(t, m.DistanceKm[0][1], m.DistanceKm[1][0], 1e-9, "great-circle metrics are symmetric")
	assert.Greater(t, m.DurationMin[0][1], 0.0)
}
