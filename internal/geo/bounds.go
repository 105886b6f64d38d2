package geo

import (
	"errors"
	"math"

	"foodtrack/internal/types"
)

var ErrNoPoints = errors.New("no points")

// Bounds is an axis-aligned lat/lng box. Boxes crossing the antimeridian are
// not supported.
type Bounds struct {
	SouthWest types.Point `json:"south_west"`
	NorthEast types.Point `json:"north_east"`
}

// BoundsOf returns the smallest box containing every point.
func BoundsOf(points ...types.Point) (Bounds, error) {
	if len(points) == 0 {
		return Bounds{}, ErrNoPoints
	}
	b := Bounds{SouthWest: points[0], NorthEast: points[0]}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return b, nil
}

func (b Bounds) Extend(p types.Point) Bounds {
	return Bounds{
		SouthWest: types.Point{Lat: math.Min(b.SouthWest.Lat, p.Lat), Lng: math.Min(b.SouthWest.Lng, p.Lng)},
		NorthEast: types.Point{Lat: math.Max(b.NorthEast.Lat, p.Lat), Lng: math.Max(b.NorthEast.Lng, p.Lng)},
	}
}

// Union returns the smallest box containing both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return b.Extend(o.SouthWest).Extend(o.NorthEast)
}

// Pad grows the box by fraction of its height and width on each side.
// Latitude is clamped to the valid range.
func (b Bounds) Pad(fraction float64) Bounds {
	if fraction <= 0 {
		return b
	}
	dLat := (b.NorthEast.Lat - b.SouthWest.Lat) * fraction
	dLng := (b.NorthEast.Lng - b.SouthWest.Lng) * fraction
	return Bounds{
		SouthWest: types.Point{Lat: math.Max(-90, b.SouthWest.Lat-dLat), Lng: b.SouthWest.Lng - dLng},
		NorthEast: types.Point{Lat: math.Min(90, b.NorthEast.Lat+dLat), Lng: b.NorthEast.Lng + dLng},
	}
}

func (b Bounds) Contains(p types.Point) bool {
	return p.Lat >= b.SouthWest.Lat && p.Lat <= b.NorthEast.Lat &&
		p.Lng >= b.SouthWest.Lng && p.Lng <= b.NorthEast.Lng
}

func (b Bounds) Center() types.Point {
	return Interpolate(b.SouthWest, b.NorthEast, 0.5)
}
