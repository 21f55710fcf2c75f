// Package geo holds the spherical distance helpers shared by the stores.
package geo

import (
	"math"

	"github.com/exambook/apiserver/types"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b types.Coordinates) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLng := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RoundKm rounds a distance to one decimal place.
func RoundKm(km float64) float64 {
	return math.Round(km*10) / 10
}

// Point returns the GeoJSON position for a coordinate pair: longitude first.
func Point(lat, lng float64) [2]float64 {
	return [2]float64{lng, lat}
}

// Valid reports whether lat/lng are finite and within range.
func Valid(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// NewLocation builds a Location whose point is derived from lat/lng.
func NewLocation(lat, lng float64, address string) *types.Location {
	return &types.Location{
		Type:             "Point",
		Latitude:         lat,
		Longitude:        lng,
		FormattedAddress: address,
		Coordinates:      Point(lat, lng),
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
