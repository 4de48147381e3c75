// Package geo implements the office geofence check.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distance.
const EarthRadiusMeters = 6_371_000.0

// Coordinate is a sensor-reported position. Accuracy is in meters; zero
// means the provider did not report one.
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty" yaml:"accuracy,omitempty"`
}

// Anchor is the office location and the radius a punch must fall within.
type Anchor struct {
	Latitude     float64 `json:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" yaml:"longitude"`
	RadiusMeters float64 `json:"radius_meters" yaml:"radius_meters"`
}

var (
	ErrInvalidCoordinate = errors.New("geo: coordinate out of range")
	ErrInvalidRadius     = errors.New("geo: radius must be > 0")
)

func (a Anchor) Center() Coordinate {
	return Coordinate{Latitude: a.Latitude, Longitude: a.Longitude}
}

func (a Anchor) Validate() error {
	if err := a.Center().Validate(); err != nil {
		return err
	}
	if !(a.RadiusMeters > 0) {
		return ErrInvalidRadius
	}
	return nil
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return ErrInvalidCoordinate
	}
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// Result of a geofence evaluation. DistanceMeters keeps full precision;
// use RoundedMeters for display.
type Result struct {
	WithinRadius   bool    `json:"within_radius"`
	DistanceMeters float64 `json:"distance_meters"`
}

func (r Result) RoundedMeters() int64 { return int64(math.Round(r.DistanceMeters)) }

// Evaluate reports whether current lies within anchor's radius.
func Evaluate(current Coordinate, anchor Anchor) Result {
	d := Distance(current, anchor.Center())
	return Result{
		WithinRadius:   d <= anchor.RadiusMeters,
		DistanceMeters: d,
	}
}

// Distance is the haversine great-circle distance in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Offset moves c by the given meters north and east on a spherical Earth.
func Offset(c Coordinate, northMeters, eastMeters float64) Coordinate {
	lat := c.Latitude + degrees(northMeters/EarthRadiusMeters)
	lon := c.Longitude
	if cos := math.Cos(radians(c.Latitude)); cos != 0 {
		lon += degrees(eastMeters / (EarthRadiusMeters * cos))
	}
	return Coordinate{Latitude: lat, Longitude: lon, Accuracy: c.Accuracy}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
