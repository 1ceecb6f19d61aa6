package geo

import "github.com/golang/geo/s2"

// EarthRadiusKm is Earth's mean radius in kilometers.
const EarthRadiusKm = 6371.0

// HaversineKm calculates the great-circle distance between two points in
// kilometers on Earth's mean-radius sphere.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}
