// Package geo implements the spatial math for the skycond service: coordinate
// quantization for cache and grid keys, great-circle distance, and land-grid
// enumeration for the forecast refresh job.
package geo

import "math"

// CacheResolution is the quantization step for volatile-cache keys, in degrees.
// 0.1 degrees is roughly 11 km at the equator, well inside the neighbor radius.
const CacheResolution = 0.1

// GeoCell is a coordinate rounded to CacheResolution. It is the volatile-cache
// key and is never persisted.
type GeoCell struct {
	Lat float64
	Lon float64
}

// GridCell is a coordinate rounded to a whole-degree grid resolution. It is
// the persisted forecast-table key.
type GridCell struct {
	LatGrid int
	LonGrid int
}

// QuantizeForCache rounds a coordinate to the nearest 0.1 degrees, producing
// the volatile-cache key. Quantizing an already-quantized cell returns itself.
func QuantizeForCache(lat, lon float64) GeoCell {
	return GeoCell{
		Lat: math.Round(lat*10) / 10,
		Lon: math.Round(lon*10) / 10,
	}
}

// QuantizeForGrid rounds a coordinate to the nearest multiple of resolution
// degrees, producing the persisted forecast-grid key. This is round-to-nearest;
// grid enumeration over region bounds uses ceiling-to-multiple instead (see
// GenerateLandGrid) and the two rules must not be conflated.
func QuantizeForGrid(lat, lon float64, resolution int) GridCell {
	res := float64(resolution)
	return GridCell{
		LatGrid: int(math.Round(lat/res)) * resolution,
		LonGrid: int(math.Round(lon/res)) * resolution,
	}
}
