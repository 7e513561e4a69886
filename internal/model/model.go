// Package model contains domain models for the trip-planning route engine.
// These structs map to the PostgreSQL schema defined in migrations/001_create_schema.up.sql.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

type TripStatus string

const (
	TripDraft     TripStatus = "draft"
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripArchived  TripStatus = "archived"
)

type DayStatus string

const (
	DayActive   DayStatus = "active"
	DayInactive DayStatus = "inactive"
	DayDeleted  DayStatus = "deleted"
)

type StopKind string

const (
	StopStart StopKind = "start"
	StopVia   StopKind = "via"
	StopEnd   StopKind = "end"
)

// Profile is the travel mode routes are computed for.
type Profile string

const (
	ProfileCar        Profile = "car"
	ProfileMotorcycle Profile = "motorcycle"
	ProfileBike       Profile = "bike"
	ProfileWalking    Profile = "walking"
)

// Valid reports whether p is one of the supported profiles.
func (p Profile) Valid() bool {
	switch p {
	case ProfileCar, ProfileMotorcycle, ProfileBike, ProfileWalking:
		return true
	}
	return false
}

// Objective is the scalar minimized during optimization.
type Objective string

const (
	ObjectiveTime     Objective = "time"
	ObjectiveDistance Objective = "distance"
)

// Valid reports whether o is a supported objective.
func (o Objective) Valid() bool {
	return o == ObjectiveTime || o == ObjectiveDistance
}

// ─── Location & Geometry ────────────────────────────────────

// Location represents a WGS-84 geographic point (EPSG:4326).
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// InRange reports whether the coordinates are finite and within
// [-90,90] × [-180,180].
func (l Location) InRange() bool {
	return l.Lat == l.Lat && l.Lon == l.Lon && // NaN is never equal to itself
		l.Lat >= -90 && l.Lat <= 90 &&
		l.Lon >= -180 && l.Lon <= 180
}

// LineString is a GeoJSON LineString. Coordinates are [lon, lat] pairs.
type LineString struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// NewLineString builds a GeoJSON LineString from ordered locations.
func NewLineString(points []Location) LineString {
	coords := make([][2]float64, len(points))
	for i, p := range points {
		coords[i] = [2]float64{p.Lon, p.Lat}
	}
	return LineString{Type: "LineString", Coordinates: coords}
}

// ─── Domain Models ──────────────────────────────────────────

// Trip maps to the `trips` table. A trip is live iff DeletedAt is nil.
type Trip struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Title     string     `json:"title"`
	Slug      string     `json:"slug"`
	StartDate *time.Time `json:"start_date,omitempty"`
	Timezone  string     `json:"timezone"`
	Status    TripStatus `json:"status"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Day maps to the `days` table. Seq is 1-based and unique per trip among
// non-deleted days. CalculatedDate is trip.start_date + seq - 1 when both
// exist.
type Day struct {
	ID             string     `json:"id"`
	TripID         string     `json:"trip_id"`
	Seq            int        `json:"seq"`
	RestDay        bool       `json:"rest_day"`
	Status         DayStatus  `json:"status"`
	CalculatedDate *time.Time `json:"calculated_date,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Place maps to the `places` table. Shared between stops; created on demand
// when a caller supplies an inline location.
type Place struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Address   string            `json:"address,omitempty"`
	Location  Location          `json:"location"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Stop maps to the `stops` table. Per active day: at most one start (seq 1,
// fixed), at most one end (largest seq, fixed); seq values unique among
// non-deleted stops. Fixed vias keep their position under optimization.
type Stop struct {
	ID              string     `json:"id"`
	DayID           string     `json:"day_id"`
	TripID          string     `json:"trip_id"`
	PlaceID         string     `json:"place_id"`
	Seq             int        `json:"seq"`
	Kind            StopKind   `json:"kind"`
	Fixed           bool       `json:"fixed"`
	Notes           string     `json:"notes,omitempty"`
	StopType        string     `json:"stop_type,omitempty"`
	ArrivalTime     *time.Time `json:"arrival_time,omitempty"`
	DepartureTime   *time.Time `json:"departure_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Priority        *int       `json:"priority,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// ─── Route Artifacts ────────────────────────────────────────

// RouteOptions carries the avoidance flags and the optimize switch.
type RouteOptions struct {
	Avoid    []string `json:"avoid,omitempty"` // tolls, ferries, highways
	Optimize bool     `json:"optimize"`
}

// Totals aggregates leg distances and durations for a route.
type Totals struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

// Leg is a segment between two successive ordered stops. Geometry is nil
// when the provider returned only an overall geometry.
type Leg struct {
	FromStopID  string      `json:"from_stop_id"`
	ToStopID    string      `json:"to_stop_id"`
	DistanceKm  float64     `json:"distance_km"`
	DurationMin float64     `json:"duration_min"`
	Geometry    *LineString `json:"geometry,omitempty"`
}

// RouteVersion is a computed route over a day. Exactly one version per day
// has IsActive set; VersionNumber is monotonic per day.
type RouteVersion struct {
	ID             string       `json:"id"`
	DayID          string       `json:"day_id"`
	VersionNumber  int          `json:"version_number"`
	Name           string       `json:"name,omitempty"`
	IsActive       bool         `json:"is_active"`
	Profile        Profile      `json:"profile"`
	Objective      Objective    `json:"objective"`
	Options        RouteOptions `json:"options"`
	OrderedStopIDs []string     `json:"ordered_stop_ids"`
	Totals         Totals       `json:"totals"`
	Legs           []Leg        `json:"legs"`
	Geometry       LineString   `json:"geometry"`
	Warnings       []string     `json:"warnings,omitempty"`
	ComputedAt     time.Time    `json:"computed_at"`
	ProviderName   string       `json:"provider_name"`
}

// Preview is a computed-but-unpersisted route version held server-side
// under an opaque token until committed or expired.
type Preview struct {
	Token      string       `json:"token"`
	DayID      string       `json:"day_id"`
	ExpiresAt  time.Time    `json:"expires_at"`
	InputsHash string       `json:"inputs_hash"`
	Version    RouteVersion `json:"version"`
}
