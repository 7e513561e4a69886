// Package geo provides geographic utility functions for the route engine.
//
// All distance calculations use the Haversine formula on WGS-84 coordinates.
// Travel-time estimation uses a per-profile speed table bucketed by road
// context (urban / rural / highway), chosen from segment length. This is the
// estimation backing the in-process fallback adapter; the road-network
// providers return real figures.
package geo

import (
	"math"

	"github.com/AdarBahar/MyTrip-sub004/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// Segment-length thresholds selecting the road context.
	UrbanMaxKm   = 10.0 // below this a leg is treated as urban driving
	RuralMaxKm   = 80.0 // below this (and above urban) a leg is rural
	// at or above RuralMaxKm a leg is treated as highway
)

// RoadContext buckets a segment by its length.
type RoadContext string

const (
	ContextUrban   RoadContext = "urban"
	ContextRural   RoadContext = "rural"
	ContextHighway RoadContext = "highway"
)

// speedKmph maps profile × context to an assumed average speed.
// The motorcycle profile shares the car row (same road classes).
var speedKmph = map[model.Profile]map[RoadContext]float64{
	model.ProfileCar:        {ContextUrban: 30, ContextRural: 60, ContextHighway: 80},
	model.ProfileMotorcycle: {ContextUrban: 30, ContextRural: 60, ContextHighway: 80},
	model.ProfileBike:       {ContextUrban: 15, ContextRural: 18, ContextHighway: 20},
	model.ProfileWalking:    {ContextUrban: 5, ContextRural: 5, ContextHighway: 5},
}

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
//
// Complexity: O(1)
func HaversineKm(a, b model.Location) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// ContextForKm returns the road context for a segment of the given length.
func ContextForKm(km float64) RoadContext {
	switch {
	case km < UrbanMaxKm:
		return ContextUrban
	case km < RuralMaxKm:
		return ContextRural
	default:
		return ContextHighway
	}
}

// SpeedKmph returns the assumed average speed for a profile over a segment
// of the given length. Unknown profiles fall back to the car row.
func SpeedKmph(profile model.Profile, km float64) float64 {
	row, ok := speedKmph[profile]
	if !ok {
		row = speedKmph[model.ProfileCar]
	}
	return row[ContextForKm(km)]
}

// EstimateMinutes returns the estimated travel time in minutes for a direct
// segment between two points under the given profile.
//
// Complexity: O(1)
func EstimateMinutes(profile model.Profile, a, b model.Location) float64 {
	km := HaversineKm(a, b)
	return km / SpeedKmph(profile, km) * 60.0
}

// ─── Geometry Stitching ─────────────────────────────────────

// StitchLineStrings concatenates ordered leg geometries into a single
// LineString, dropping the duplicate boundary vertex between consecutive
// legs. Empty geometries are skipped.
//
// Complexity: O(V) over all vertices.
func StitchLineStrings(legs []model.LineString) model.LineString {
	total := 0
	for _, l := range legs {
		total += len(l.Coordinates)
	}

	coords := make([][2]float64, 0, total)
	for _, l := range legs {
		for _, c := range l.Coordinates {
			if n := len(coords); n > 0 && coords[n-1] == c {
				continue // boundary vertex shared with the previous leg
			}
			coords = append(coords, c)
		}
	}

	return model.LineString{Type: "LineString", Coordinates: coords}
}

// ─── Polyline ───────────────────────────────────────────────

// DecodePolyline decodes a Google-style encoded polyline into locations.
// The precision argument is the coordinate multiplier exponent: 5 for
// polyline5 (GraphHopper default), 6 for polyline6.
//
// Complexity: O(len(encoded))
func DecodePolyline(encoded string, precision int) []model.Location {
	factor := math.Pow10(precision)

	var points []model.Location
	var lat, lon int64

	for i := 0; i < len(encoded); {
		var d int64
		d, i = decodeVarint(encoded, i)
		lat += d

		if i >= len(encoded) {
			break
		}
		d, i = decodeVarint(encoded, i)
		lon += d

		points = append(points, model.Location{
			Lat: float64(lat) / factor,
			Lon: float64(lon) / factor,
		})
	}

	return points
}

// decodeVarint reads one zigzag-encoded value starting at index i and
// returns the value plus the next index.
func decodeVarint(s string, i int) (int64, int) {
	var result int64
	var shift uint

	for i < len(s) {
		b := int64(s[i]) - 63
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), i
	}
	return result >> 1, i
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
