package geo

import (
	"math"

	"github.com/example/driver-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// Unreachable is returned for any pair with a missing endpoint so that such
// drivers rank after every driver with a known location.
const Unreachable = 99999.0

// DistanceKm is the great-circle distance between two points in kilometres.
// It never fails: a nil endpoint or a non-finite coordinate yields Unreachable.
func DistanceKm(from, to *models.Coord) float64 {
	if from == nil || to == nil || !finite(from) || !finite(to) {
		return Unreachable
	}
	return HaversineKm(from.Lat, from.Lon, to.Lat, to.Lon)
}

// HaversineKm computes the haversine distance in kilometres on a 6371 km sphere.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func finite(c *models.Coord) bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) && !math.IsNaN(c.Lon) && !math.IsInf(c.Lon, 0)
}
