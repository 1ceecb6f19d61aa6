// Package types defines the shared domain types for the skycond service:
// condition samples, provenance tags, and the application error model.
package types

import "time"

// Source identifies which tier of the resolution pipeline produced a sample.
type Source string

// Provenance tags returned alongside every resolved condition sample.
const (
	SourceCache    Source = "cache"
	SourceNeighbor Source = "neighbor"
	SourceForecast Source = "forecast"
	SourceLive     Source = "live"
)

// ConditionSample is a normalized snapshot of sky-visibility-relevant weather
// at a coordinate. CloudCover and Fog are fractions in [0, 1]; Precipitation
// is mm/hr and never negative. VisibilityKm, TemperatureC, and Humidity are
// optional: upstream payloads routinely omit them.
type ConditionSample struct {
	CloudCover    float64   `json:"cloud_cover"`
	Precipitation float64   `json:"precipitation"`
	Fog           float64   `json:"fog"`
	VisibilityKm  *float64  `json:"visibility_km,omitempty"`
	TemperatureC  *float64  `json:"temperature_c,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Normalize clamps the sample's fields to their documented invariants:
// fractions to [0, 1], precipitation to >= 0. Returns the sample for chaining.
func (s ConditionSample) Normalize() ConditionSample {
	s.CloudCover = ClampFraction(s.CloudCover)
	s.Fog = ClampFraction(s.Fog)
	if s.Precipitation < 0 {
		s.Precipitation = 0
	}
	return s
}

// ClampFraction clamps v to the [0, 1] interval.
func ClampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FogFactor estimates a fog visibility-reduction factor from visibility in km.
// Below 10 km the factor rises linearly toward 1; at or above 10 km it is 0.
func FogFactor(visibilityKm float64) float64 {
	if visibilityKm >= 10 {
		return 0
	}
	f := 1 - visibilityKm/10
	if f < 0 {
		return 0
	}
	return f
}
