// Package geo computes great-circle distances for trip mileage.
package geo

import (
	"math"

	"mileage/internal/model"
)

// EarthRadiusMiles is the mean Earth radius used for all mileage.
const EarthRadiusMiles = 3959.0

const kmPerMile = 1.609344

// Distance returns the haversine distance in miles between a and b.
func Distance(a, b model.GeoPoint) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}

// PathDistance sums Distance over consecutive points.
func PathDistance(points []model.GeoPoint) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

func MilesToKilometers(mi float64) float64 { return mi * kmPerMile }

func radians(deg float64) float64 { return deg * math.Pi / 180 }
