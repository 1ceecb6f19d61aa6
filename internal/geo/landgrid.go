package geo

import "math"

// LandRegion is a static bounding box used to seed grid generation. Regions
// are never persisted or mutated.
type LandRegion struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// DefaultLandRegions covers the major populated land masses, skipping remote
// and ocean areas. Keeping the set coarse holds the refreshed cell count well
// under the upstream provider's daily call budget.
var DefaultLandRegions = []LandRegion{
	{20, 60, -130, -70},  // North America
	{10, 30, -110, -60},  // Central America & Caribbean
	{-40, 10, -80, -30},  // South America
	{30, 60, -10, 30},    // Western Europe
	{40, 60, 20, 50},     // Eastern Europe
	{-40, 40, -20, 50},   // Africa
	{20, 40, 30, 60},     // Middle East
	{0, 40, 60, 110},     // South Asia
	{20, 50, 100, 150},   // East Asia
	{-40, -10, 110, 160}, // Australia
}

// GenerateLandGrid enumerates grid cells covering the given regions at the
// given whole-degree resolution. For each region the first grid line at or
// after the region minimum is found by ceiling-to-multiple, then stepped by
// the resolution up to and including the region maximum. Cells are unioned
// across regions; identical inputs always produce an identical set.
func GenerateLandGrid(regions []LandRegion, resolution int) map[GridCell]struct{} {
	cells := make(map[GridCell]struct{})
	res := float64(resolution)

	for _, r := range regions {
		latStart := ceilToMultiple(r.LatMin, res)
		lonStart := ceilToMultiple(r.LonMin, res)

		for lat := latStart; lat <= r.LatMax; lat += res {
			for lon := lonStart; lon <= r.LonMax; lon += res {
				cells[GridCell{LatGrid: int(lat), LonGrid: int(lon)}] = struct{}{}
			}
		}
	}

	return cells
}

// ceilToMultiple returns the smallest multiple of res that is >= v.
func ceilToMultiple(v, res float64) float64 {
	return math.Ceil(v/res) * res
}
