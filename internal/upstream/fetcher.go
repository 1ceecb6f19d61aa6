// Package upstream abstracts the live weather provider behind a single
// Fetcher interface. The service core depends only on this interface;
// provider selection is a deployment decision, not a design axis.
package upstream

import (
	"context"
	"time"

	"skycond/internal/types"
)

// HourlyPoint is one hour of forecast data for a coordinate. Values are
// pointers because providers omit fields freely; CloudCoverPct stays in
// percent (it is stored that way), while visibility is normalized to km.
type HourlyPoint struct {
	Time            time.Time
	CloudCoverPct   *float64
	PrecipitationMM *float64
	VisibilityKm    *float64
}

// Fetcher retrieves current conditions and hourly forecasts from a live
// weather provider. Implementations fail with
// types.ErrCodeUpstreamUnavailable on network errors, timeouts, non-success
// statuses, and unparsable bodies, and types.ErrCodeUpstreamRateLimited on
// throttle signals. Malformed or partial payloads are tolerated via default
// substitution, never treated as errors.
type Fetcher interface {
	// FetchCurrent returns normalized current conditions at the coordinate.
	// The returned sample carries no fog factor; fog is derived from
	// visibility by the resolution service.
	FetchCurrent(ctx context.Context, lat, lon float64) (types.ConditionSample, error)

	// FetchHourlyForecast returns the hourly forecast series for the given
	// number of days, ordered by time ascending.
	FetchHourlyForecast(ctx context.Context, lat, lon float64, days int) ([]HourlyPoint, error)
}
