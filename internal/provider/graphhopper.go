package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
	"github.com/AdarBahar/MyTrip-sub004/pkg/geo"
)

// Canonical adapter names.
const (
	CloudName    = "cloud"
	SelfHostName = "selfhost"
)

// DefaultCallTimeout is the hard per-call deadline for network adapters.
const DefaultCallTimeout = 30 * time.Second

// ─── HTTP Adapter ───────────────────────────────────────────

// HTTPProvider talks to a GraphHopper-compatible routing service. The same
// adapter serves both the cloud endpoint (API key, rate limited) and a
// self-host instance (no key, bounded CPU); they differ only in
// configuration and the set of rejected profiles.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client

	// Profiles the instance is known to reject. Checked before any network
	// call so a misconfigured profile fails fast and is never retried.
	rejected map[model.Profile]bool
}

// NewCloudProvider creates the cloud adapter.
func NewCloudProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &HTTPProvider{
		name:    CloudName,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewSelfHostProvider creates the self-host adapter. Self-host instances
// built without the motorcycle graph reject that profile, so it is refused
// up front rather than silently degraded to car.
func NewSelfHostProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &HTTPProvider{
		name:     SelfHostName,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		rejected: map[model.Profile]bool{model.ProfileMotorcycle: true},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.name }

// ─── Wire Types ─────────────────────────────────────────────

// routeRequest is the POST body for /route and /matrix. Field order is
// fixed by the struct declaration, so equal inputs always marshal to equal
// bytes and hash equal.
type routeRequest struct {
	Points    [][2]float64 `json:"points"` // [lon, lat]
	Profile   string       `json:"profile"`
	Objective string       `json:"objective,omitempty"`
	Avoid     []string     `json:"avoid,omitempty"`
}

type routeResponse struct {
	DistanceM float64       `json:"distance_m"`
	TimeMs    float64       `json:"time_ms"`
	Points    geometryField `json:"points"`
	Legs      []legResponse `json:"legs,omitempty"`
}

type legResponse struct {
	DistanceM float64       `json:"distance_m"`
	TimeMs    float64       `json:"time_ms"`
	Points    geometryField `json:"points,omitempty"`
}

type matrixResponse struct {
	Distances [][]float64 `json:"distances"` // meters
	Times     [][]float64 `json:"times"`     // milliseconds
}

// geometryField accepts either an encoded polyline string or a GeoJSON
// coordinate array, per the provider wire contract.
type geometryField struct {
	points []model.Location
}

func (g *geometryField) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		g.points = geo.DecodePolyline(encoded, 5)
		return nil
	}

	var coords [][2]float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("points: neither polyline nor coordinate array: %w", err)
	}
	g.points = make([]model.Location, len(coords))
	for i, c := range coords {
		g.points[i] = model.Location{Lon: c[0], Lat: c[1]}
	}
	return nil
}

// ─── Operations ─────────────────────────────────────────────

// ComputeRoute implements Provider against POST {base}/route.
func (p *HTTPProvider) ComputeRoute(ctx context.Context, points []model.Location, profile model.Profile, opts model.RouteOptions) (*RouteResult, error) {
	if p.rejected[profile] {
		return nil, &Error{
			Kind:     KindUpstream4xx,
			Provider: p.name,
			Message:  fmt.Sprintf("profile %q is not supported by this instance", profile),
		}
	}

	body := routeRequest{
		Points:  encodePoints(points),
		Profile: string(profile),
		Avoid:   opts.Avoid,
	}

	var resp routeResponse
	if err := p.post(ctx, "/route", body, &resp); err != nil {
		return nil, err
	}

	result := &RouteResult{
		DistanceKm: resp.DistanceM / 1000.0,
		Geometry:   model.NewLineString(resp.Points.points),
	}

	// Providers occasionally return zero or garbage times for short hops;
	// substitute the haversine estimate rather than poisoning the totals.
	result.DurationMin, result.Warnings = normalizeDuration(
		resp.TimeMs/60000.0, profile, points, result.Warnings)

	for i, leg := range resp.Legs {
		lr := LegResult{DistanceKm: leg.DistanceM / 1000.0, DurationMin: leg.TimeMs / 60000.0}
		if !positiveFinite(lr.DurationMin) && i+1 < len(points) {
			lr.DurationMin = geo.EstimateMinutes(profile, points[i], points[i+1])
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("provider=%s invalid leg duration, estimated leg %d", p.name, i))
		}
		if len(leg.Points.points) > 0 {
			g := model.NewLineString(leg.Points.points)
			lr.Geometry = &g
		}
		result.Legs = append(result.Legs, lr)
	}

	return result, nil
}

// ComputeMatrix implements Provider against POST {base}/matrix.
func (p *HTTPProvider) ComputeMatrix(ctx context.Context, points []model.Location, profile model.Profile, objective model.Objective) (*Matrix, error) {
	if p.rejected[profile] {
		return nil, &Error{
			Kind:     KindUpstream4xx,
			Provider: p.name,
			Message:  fmt.Sprintf("profile %q is not supported by this instance", profile),
		}
	}

	body := routeRequest{
		Points:    encodePoints(points),
		Profile:   string(profile),
		Objective: string(objective),
	}

	var resp matrixResponse
	if err := p.post(ctx, "/matrix", body, &resp); err != nil {
		return nil, err
	}

	n := len(points)
	if len(resp.Distances) != n || len(resp.Times) != n {
		return nil, &Error{
			Kind:     KindUpstream4xx,
			Provider: p.name,
			Message:  fmt.Sprintf("matrix shape mismatch: want %d rows, got %d/%d", n, len(resp.Distances), len(resp.Times)),
		}
	}
	for i := 0; i < n; i++ {
		if len(resp.Distances[i]) != n || len(resp.Times[i]) != n {
			return nil, &Error{
				Kind:     KindUpstream4xx,
				Provider: p.name,
				Message:  fmt.Sprintf("matrix shape mismatch: row %d has %d/%d columns, want %d", i, len(resp.Distances[i]), len(resp.Times[i]), n),
			}
		}
	}

	m := NewMatrix(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			m.DistanceKm[i][j] = resp.Distances[i][j] / 1000.0
			min := resp.Times[i][j] / 60000.0
			if !positiveFinite(min) {
				min = geo.EstimateMinutes(profile, points[i], points[j])
			}
			m.DurationMin[i][j] = min
		}
	}

	return m, nil
}

// ─── HTTP plumbing ──────────────────────────────────────────

// post issues the request and decodes the response, mapping every failure
// mode to a typed *Error.
func (p *HTTPProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindNetwork, Provider: p.name, Message: "encode request: " + err.Error()}
	}

	url := p.baseURL + path
	if p.apiKey != "" {
		url += "?key=" + p.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindNetwork, Provider: p.name, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Provider: p.name, Message: "call exceeded deadline"}
		}
		return &Error{Kind: KindNetwork, Provider: p.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		log.Printf("[provider] %s rate limited, retry after %s", p.name, retryAfter)
		return &Error{
			Kind:       KindRateLimited,
			Provider:   p.name,
			Status:     resp.StatusCode,
			RetryAfter: retryAfter,
		}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindUpstream5xx, Provider: p.name, Status: resp.StatusCode,
			Message: readErrorBody(resp.Body)}
	case resp.StatusCode >= 400:
		return &Error{Kind: KindUpstream4xx, Provider: p.name, Status: resp.StatusCode,
			Message: readErrorBody(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindNetwork, Provider: p.name, Message: "decode response: " + err.Error()}
	}
	return nil
}

// parseRetryAfter reads a Retry-After header in seconds; defaults to 30s
// when absent or unparseable so a missing header still blocks the adapter.
func parseRetryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 30 * time.Second
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 1024))
	if len(body) == 0 {
		return "(empty response body)"
	}
	return string(body)
}

func encodePoints(points []model.Location) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.Lon, p.Lat}
	}
	return out
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func normalizeDuration(min float64, profile model.Profile, points []model.Location, warnings []string) (float64, []string) {
	if positiveFinite(min) {
		return min, warnings
	}
	var est float64
	for i := 0; i < len(points)-1; i++ {
		est += geo.EstimateMinutes(profile, points[i], points[i+1])
	}
	return est, append(warnings, "invalid provider duration, substituted haversine estimate")
}
