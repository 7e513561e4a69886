package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

func TestHTTPProvider_ComputeRoute_GeoJSONPoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "car", req["profile"])

		json.NewEncoder(w).Encode(map[string]any{
			"distance_m": 54000.0,
			"time_ms":    3300000.0,
			"points":     [][2]float64{{34.7818, 32.0853}, {35.2137, 31.7683}},
		})
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	res, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})
	require.NoError(t, err)

	assert.InDelta(t, 54.0, res.DistanceKm, 1e-9)
	assert.InDelta(t, 55.0, res.DurationMin, 1e-9)
	require.Len(t, res.Geometry.Coordinates, 2)
	assert.Equal(t, [2]float64{34.7818, 32.0853}, res.Geometry.Coordinates[0])
}

func TestHTTPProvider_ComputeRoute_PolylinePoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"distance_m": 1000.0,
			"time_ms":    120000.0,
			"points":     "_p~iF~ps|U_ulLnnqC",
		})
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	res, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})
	require.NoError(t, err)

	require.Len(t, res.Geometry.Coordinates, 2)
	assert.InDelta(t, 38.5, res.Geometry.Coordinates[0][1], 1e-5)
	assert.InDelta(t, -120.2, res.Geometry.Coordinates[0][0], 1e-5)
}

func TestHTTPProvider_ComputeRoute_InvalidDurationEstimated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"distance_m": 54000.0,
			"time_ms":    0.0, // broken upstream figure
			"points":     [][2]float64{},
		})
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	res, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})
	require.NoError(t, err)

	assert.Greater(t, res.DurationMin, 0.0, "zero duration must be replaced by an estimate")
	assert.NotEmpty(t, res.Warnings)
}

func TestHTTPProvider_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewCloudProvider(srv.URL, "test-key", time.Second)
	_, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindRateLimited, perr.Kind)
	assert.Equal(t, 17*time.Second, perr.RetryAfter)
	assert.True(t, perr.Retryable())
}

func TestHTTPProvider_RateLimited_MissingHeaderDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewCloudProvider(srv.URL, "test-key", time.Second)
	_, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 30*time.Second, perr.RetryAfter)
}

func TestHTTPProvider_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "graph not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	_, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUpstream5xx, perr.Kind)
	assert.True(t, perr.Retryable())
}

func TestHTTPProvider_ClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "point outside graph", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	_, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUpstream4xx, perr.Kind)
	assert.False(t, perr.Retryable())
}

func TestHTTPProvider_SelfHostRejectsMotorcycle(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	_, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileMotorcycle, model.RouteOptions{})

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUpstream4xx, perr.Kind)
	assert.False(t, called, "rejected profile must fail before any network call")

	_, err = p.ComputeMatrix(context.Background(), testPoints(), model.ProfileMotorcycle, model.ObjectiveTime)
	require.Error(t, err)
}

func TestHTTPProvider_ComputeMatrix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/matrix", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"distances": [][]float64{{0, 54000}, {54000, 0}},
			"times":     [][]float64{{0, 3300000}, {3300000, 0}},
		})
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	m, err := p.ComputeMatrix(context.Background(), testPoints(), model.ProfileCar, model.ObjectiveTime)
	require.NoError(t, err)

	assert.Equal(t, 2, m.N())
	assert.InDelta(t, 54.0, m.DistanceKm[0][1], 1e-9)
	assert.InDelta(t, 55.0, m.DurationMin[1][0], 1e-9)
	assert.Zero(t, m.DistanceKm[0][0])
}

func TestHTTPProvider_ComputeMatrix_ShapeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"distances": [][]float64{{0}},
			"times":     [][]float64{{0}},
		})
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	_, err := p.ComputeMatrix(context.Background(), testPoints(), model.ProfileCar, model.ObjectiveTime)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUpstream4xx, perr.Kind)
}

func TestHTTPProvider_ComputeMatrix_RaggedRows(t *testing.T) {
	// Row count matches but the first row is short; must surface as a typed
	// upstream error, not a panic while indexing.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"distances": [][]float64{{0}, {0, 54000}},
			"times":     [][]float64{{0, 3300000}, {3300000, 0}},
		})
	}))
	defer srv.Close()

	p := NewSelfHostProvider(srv.URL, time.Second)
	_, err := p.ComputeMatrix(context.Background(), testPoints(), model.ProfileCar, model.ObjectiveTime)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUpstream4xx, perr.Kind)
	assert.False(t, perr.Retryable())
}

func TestHTTPProvider_CloudSendsAPIKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		json.NewEncoder(w).Encode(map[string]any{
			"distance_m": 1000.0, "time_ms": 60000.0, "points": [][2]float64{},
		})
	}))
	defer srv.Close()

	p := NewCloudProvider(srv.URL, "secret-key", time.Second)
	_, err := p.ComputeRoute(context.Background(), testPoints(), model.ProfileCar, model.RouteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "secret-key", gotKey)
}
