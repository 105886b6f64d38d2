package maps

import (
	"context"
	"time"

	"foodtrack/internal/geo"
	"foodtrack/internal/types"
)

const defaultCitySpeedMPS = 25.0 / 3.6

// StraightLineProvider estimates a route as the great-circle segment between
// both points, stretched by Detour and driven at SpeedMPS. It is used when no
// routing API key is configured.
type StraightLineProvider struct {
	SpeedMPS float64
	Detour   float64
}

func (p StraightLineProvider) Route(ctx context.Context, origin, destination types.Point) (Route, error) {
	if err := ctx.Err(); err != nil {
		return Route{}, err
	}
	speed := p.SpeedMPS
	if speed <= 0 {
		speed = defaultCitySpeedMPS
	}
	detour := p.Detour
	if detour < 1 {
		detour = 1
	}
	dist := geo.DistanceMeters(origin, destination) * detour
	return Route{
		DistanceMeters: dist,
		Duration:       time.Duration(dist / speed * float64(time.Second)),
		Polyline:       []types.Point{origin, destination},
		ResolvedAt:     time.Now(),
	}, nil
}
