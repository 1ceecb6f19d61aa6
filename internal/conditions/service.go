// Package conditions implements the tiered condition-resolution service, the
// sole entry point for consumers needing sky-visibility weather at a
// coordinate. Current-condition requests walk cache -> neighbor -> live
// fetch; time-targeted requests go straight to the durable forecast store.
package conditions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"skycond/internal/cache"
	"skycond/internal/geo"
	"skycond/internal/types"
	"skycond/internal/upstream"
)

// Service orchestrates the tiered lookup. It owns no hidden globals: the
// cache, neighbor resolver, fetcher, and store are injected once at
// construction and shared across concurrent Resolve calls.
type Service struct {
	cache     *cache.Cache
	neighbors *cache.NeighborResolver
	fetcher   upstream.Fetcher
	store     types.GridForecastStore
	gridRes   int
	logger    *slog.Logger
}

// NewService creates the resolution service. gridResolution must match the
// resolution the refresh job writes with, or stored rows become unreachable.
func NewService(
	c *cache.Cache,
	neighbors *cache.NeighborResolver,
	fetcher upstream.Fetcher,
	store types.GridForecastStore,
	gridResolution int,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:     c,
		neighbors: neighbors,
		fetcher:   fetcher,
		store:     store,
		gridRes:   gridResolution,
		logger:    logger,
	}
}

// Resolve returns the condition sample for the coordinate together with its
// provenance tag. A nil targetTime resolves current conditions via the cache
// tiers; a non-nil targetTime resolves against the stored forecast grid and
// never touches the volatile cache or the live fetcher.
func (s *Service) Resolve(ctx context.Context, lat, lon float64, targetTime *time.Time) (types.ConditionSample, types.Source, error) {
	if err := validateCoordinate(lat, lon); err != nil {
		return types.ConditionSample{}, "", err
	}

	if targetTime != nil {
		return s.resolveForecast(ctx, lat, lon, *targetTime)
	}
	return s.resolveCurrent(ctx, lat, lon)
}

// resolveCurrent walks the current-condition tiers. Two concurrent misses for
// the same coordinate may both fetch upstream and both write the cache;
// last write wins.
func (s *Service) resolveCurrent(ctx context.Context, lat, lon float64) (types.ConditionSample, types.Source, error) {
	cell := geo.QuantizeForCache(lat, lon)

	if sample, ok := s.cache.Get(cell); ok {
		return sample, types.SourceCache, nil
	}

	// A neighbor hit reuses the entry as-is and does not write a new cache
	// entry at the query coordinate.
	if sample, ok := s.neighbors.FindNearestWithin(lat, lon); ok {
		return sample, types.SourceNeighbor, nil
	}

	sample, err := s.fetcher.FetchCurrent(ctx, lat, lon)
	if err != nil {
		return types.ConditionSample{}, "", err
	}

	if sample.VisibilityKm != nil {
		sample.Fog = types.FogFactor(*sample.VisibilityKm)
	}
	sample = sample.Normalize()

	s.cache.Put(cell, sample)
	s.logger.DebugContext(ctx, "cached live conditions",
		"lat", cell.Lat,
		"lon", cell.Lon,
	)
	return sample, types.SourceLive, nil
}

// resolveForecast quantizes to the forecast grid and returns the nearest
// stored hour at or after the target time.
func (s *Service) resolveForecast(ctx context.Context, lat, lon float64, target time.Time) (types.ConditionSample, types.Source, error) {
	cell := geo.QuantizeForGrid(lat, lon, s.gridRes)

	row, err := s.store.QueryNext(ctx, cell, target.UTC())
	if err != nil {
		return types.ConditionSample{}, "", err
	}
	if row == nil {
		return types.ConditionSample{}, "", types.NewAppError(types.ErrCodeNoForecastData,
			fmt.Sprintf("no forecast data for cell (%d, %d) at or after %s",
				cell.LatGrid, cell.LonGrid, target.UTC().Format(time.RFC3339)), nil)
	}

	return sampleFromRow(row, lat, lon), types.SourceForecast, nil
}

// sampleFromRow converts a stored forecast row into a condition sample.
// Stored cloud cover is in percent; fog is derived from visibility the same
// way as on the live path.
func sampleFromRow(row *types.ForecastRow, lat, lon float64) types.ConditionSample {
	sample := types.ConditionSample{
		CloudCover:   cloudFraction(row.CloudCoverPct),
		VisibilityKm: row.VisibilityKm,
		Lat:          lat,
		Lon:          lon,
		ObservedAt:   row.ForecastTime,
	}
	if row.PrecipitationMM != nil {
		sample.Precipitation = *row.PrecipitationMM
	}
	if row.VisibilityKm != nil {
		sample.Fog = types.FogFactor(*row.VisibilityKm)
	}
	return sample.Normalize()
}

func cloudFraction(pct *float64) float64 {
	if pct == nil {
		return 0
	}
	return *pct / 100
}

func validateCoordinate(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return types.NewAppError(types.ErrCodeValidationInvalidLat,
			fmt.Sprintf("latitude %f out of range [-90, 90]", lat), nil)
	}
	if lon < -180 || lon > 180 {
		return types.NewAppError(types.ErrCodeValidationInvalidLon,
			fmt.Sprintf("longitude %f out of range [-180, 180]", lon), nil)
	}
	return nil
}
