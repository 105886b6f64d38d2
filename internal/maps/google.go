package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"foodtrack/internal/types"
)

// GoogleProvider resolves routes with the Google Directions API.
type GoogleProvider struct {
	client *maps.Client
	now    func() time.Time
}

// NewGoogleProvider creates a provider with the given API key. Extra client
// options (base URL, HTTP client) are passed through.
func NewGoogleProvider(apiKey string, opts ...maps.ClientOption) (*GoogleProvider, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleProvider{client: client, now: time.Now}, nil
}

// Route asks for a driving route and sums every leg of the first result.
func (p *GoogleProvider) Route(ctx context.Context, origin, destination types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := p.client.Directions(ctx, r)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Route{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Route{}, fmt.Errorf("%w: maps api error: %w", ErrRouteUnavailable, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("%w: no route found", ErrRouteUnavailable)
	}

	best := routes[0]
	out := Route{ResolvedAt: p.now()}
	for _, leg := range best.Legs {
		out.DistanceMeters += float64(leg.Distance.Meters)
		out.Duration += leg.Duration
	}

	path, err := maps.DecodePolyline(best.OverviewPolyline.Points)
	if err != nil || len(path) == 0 {
		out.Polyline = []types.Point{origin, destination}
		return out, nil
	}
	out.Polyline = make([]types.Point, len(path))
	for i, ll := range path {
		out.Polyline[i] = types.Point{Lat: ll.Lat, Lng: ll.Lng}
	}
	return out, nil
}
