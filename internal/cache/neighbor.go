package cache

import (
	"skycond/internal/geo"
	"skycond/internal/types"
)

// DefaultNeighborRadiusKm is the maximum great-circle distance at which an
// existing cache entry may stand in for a nearby, non-identical coordinate.
const DefaultNeighborRadiusKm = 50.0

// NeighborResolver finds the nearest valid cache entry within a fixed radius
// of a query coordinate. A neighbor hit never writes a new cache entry at the
// query coordinate; the cached sample is reused as-is.
type NeighborResolver struct {
	cache    *Cache
	radiusKm float64
}

// NewNeighborResolver creates a resolver over the given cache. A non-positive
// radius falls back to DefaultNeighborRadiusKm.
func NewNeighborResolver(c *Cache, radiusKm float64) *NeighborResolver {
	if radiusKm <= 0 {
		radiusKm = DefaultNeighborRadiusKm
	}
	return &NeighborResolver{cache: c, radiusKm: radiusKm}
}

// FindNearestWithin scans the cache's valid entries and returns the strictly
// closest sample with haversine distance < the configured radius, or false if
// no entry qualifies. Ties are broken by first-encountered.
func (n *NeighborResolver) FindNearestWithin(lat, lon float64) (types.ConditionSample, bool) {
	var (
		nearest     types.ConditionSample
		nearestDist = n.radiusKm
		found       bool
	)

	for _, sample := range n.cache.ScanValid() {
		dist := geo.HaversineKm(lat, lon, sample.Lat, sample.Lon)
		if dist < nearestDist {
			nearest = sample
			nearestDist = dist
			found = true
		}
	}

	return nearest, found
}
