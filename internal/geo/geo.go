// Package geo contains pure geographic computation helpers: great-circle
// distance, bounding boxes and linear interpolation between coordinates.
package geo

import (
	"math"

	"foodtrack/internal/types"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b types.Point) float64 {
	if a == b {
		return 0
	}
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// Interpolate returns the point a fraction t of the way from a to b, treating
// lat/lng linearly. t is clamped to [0, 1].
func Interpolate(a, b types.Point, t float64) types.Point {
	switch {
	case t <= 0:
		return a
	case t >= 1:
		return b
	}
	return types.Point{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

// MoveToward advances from by at most stepMeters along the straight line to
// to. It returns to itself once the remaining distance is within stepMeters.
func MoveToward(from, to types.Point, stepMeters float64) types.Point {
	remaining := DistanceMeters(from, to)
	if remaining <= stepMeters || remaining == 0 {
		return to
	}
	return Interpolate(from, to, stepMeters/remaining)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
