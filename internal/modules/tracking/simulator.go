// README: Simulated agent movement used when no real position feed exists.
package tracking

import (
	"context"
	"sync"
	"time"

	"foodtrack/internal/geo"
	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

const (
	DefaultSimFraction = 0.05
	// DefaultArrivalEpsilon is the distance at which the simulator snaps to
	// the destination.
	DefaultArrivalEpsilon = 5.0
)

type SimConfig struct {
	// Fraction of the remaining vector covered per poll. Ignored when
	// SpeedMPS is set.
	Fraction      float64
	// SpeedMPS moves the agent at a constant pace instead.
	SpeedMPS      float64
	EpsilonMeters float64
	Now           func() time.Time
}

// Simulator is a Poller that walks a point toward a destination.
type Simulator struct {
	mu       sync.Mutex
	pos      types.Point
	dest     types.Point
	cfg      SimConfig
	lastPoll time.Time
}

func NewSimulator(start, dest types.Point, cfg SimConfig) *Simulator {
	if cfg.Fraction <= 0 || cfg.Fraction > 1 {
		cfg.Fraction = DefaultSimFraction
	}
	if cfg.EpsilonMeters <= 0 {
		cfg.EpsilonMeters = DefaultArrivalEpsilon
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Simulator{pos: start, dest: dest, cfg: cfg}
}

// Poll advances the simulated agent and returns its new position. The first
// poll reports the start point unchanged.
func (s *Simulator) Poll(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	if !s.lastPoll.IsZero() {
		s.pos = s.step(now.Sub(s.lastPoll))
	}
	s.lastPoll = now
	return Reading{Position: s.pos, CapturedAt: now}, nil
}

func (s *Simulator) step(elapsed time.Duration) types.Point {
	if s.pos == s.dest {
		return s.dest
	}
	var next types.Point
	if s.cfg.SpeedMPS > 0 {
		next = geo.MoveToward(s.pos, s.dest, s.cfg.SpeedMPS*elapsed.Seconds())
	} else {
		next = geo.Interpolate(s.pos, s.dest, s.cfg.Fraction)
	}
	if geo.DistanceMeters(next, s.dest) <= s.cfg.EpsilonMeters {
		return s.dest
	}
	return next
}

func (s *Simulator) Position() types.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Simulator) Arrived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos == s.dest
}

// SimulatedStart places a simulated agent relative to the destination based
// on how far along the order is.
func SimulatedStart(dest types.Point, status order.Status) types.Point {
	var offset float64
	switch status {
	case order.StatusPlaced, order.StatusConfirmed:
		offset = 0.01
	case order.StatusPreparing, order.StatusReady:
		offset = 0.005
	case order.StatusPickedUp:
		offset = 0.003
	case order.StatusDelivered:
		return dest
	default:
		offset = 0.01
	}
	return types.Point{Lat: dest.Lat - offset, Lng: dest.Lng - offset}
}
