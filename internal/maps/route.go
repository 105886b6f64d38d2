// Package maps resolves driving routes between two coordinates through a
// pluggable provider and coalesces identical in-flight requests.
package maps

import (
	"context"
	"errors"
	"time"

	"foodtrack/internal/types"
)

var (
	ErrRouteUnavailable = errors.New("route unavailable")
	ErrTimeout          = errors.New("route request timed out")
)

// Route is a provider-computed path. It is always replaced wholesale.
type Route struct {
	DistanceMeters float64       `json:"distance_meters"`
	Duration       time.Duration `json:"-"`
	Polyline       []types.Point `json:"polyline"`
	ResolvedAt     time.Time     `json:"resolved_at"`
}

func (r Route) ETASeconds() float64 {
	return r.Duration.Seconds()
}

// Provider answers "shortest route between two coordinates".
type Provider interface {
	Route(ctx context.Context, origin, destination types.Point) (Route, error)
}
