package maps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"foodtrack/internal/types"
)

const (
	DefaultTimeout = 12 * time.Second
	// keyScale rounds coordinates to 1e-5 degrees, roughly one meter.
	keyScale = 1e5
)

// Resolver wraps a Provider with a hard timeout and request coalescing.
type Resolver struct {
	provider Provider
	timeout  time.Duration
	group    singleflight.Group
	logger   *slog.Logger
}

func NewResolver(provider Provider, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "route_resolver"),
	}
}

// Resolve returns the route from origin to destination. Concurrent calls for
// the same rounded pair share one provider call. The shared call is detached
// from any single caller's cancellation and bounded by the resolver timeout;
// a cancelled caller stops waiting and gets ctx.Err().
func (r *Resolver) Resolve(ctx context.Context, origin, destination types.Point) (Route, error) {
	key := routeKey(origin, destination)
	ch := r.group.DoChan(key, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		route, err := r.provider.Route(cctx, origin, destination)
		if err != nil {
			return Route{}, r.classify(cctx, err)
		}
		return route, nil
	})

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.WarnContext(ctx, "route resolution failed", "key", key, "shared", res.Shared, "error", res.Err)
			return Route{}, res.Err
		}
		return res.Val.(Route), nil
	case <-timer.C:
		return Route{}, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	case <-ctx.Done():
		return Route{}, ctx.Err()
	}
}

func (r *Resolver) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrRouteUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}
}

func routeKey(origin, destination types.Point) string {
	return roundCoord(origin.Lat) + "," + roundCoord(origin.Lng) + "|" +
		roundCoord(destination.Lat) + "," + roundCoord(destination.Lng)
}

func roundCoord(v float64) string {
	return strconv.FormatInt(int64(math.Round(v*keyScale)), 10)
}
