// README: Session binds one picked-up order to a sampler and a route resolver and publishes snapshots.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"foodtrack/internal/geo"
	"foodtrack/internal/maps"
	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

const (
	DefaultTrailSize    = 20
	DefaultRouteRetries = 2
	defaultRetryInitial = 500 * time.Millisecond
)

var errSuperseded = errors.New("route request superseded")

// RouteResolver is satisfied by *maps.Resolver.
type RouteResolver interface {
	Resolve(ctx context.Context, origin, destination types.Point) (maps.Route, error)
}

// Snapshot is the read-only view of an order's delivery progress.
type Snapshot struct {
	OrderID           types.ID      `json:"order_id"`
	Status            order.Status  `json:"status"`
	Live              bool          `json:"live"`
	Position          *types.Point  `json:"position,omitempty"`
	Destination       types.Point   `json:"destination"`
	Trail             []types.Point `json:"trail,omitempty"`
	DistanceMeters    float64       `json:"distance_meters"`
	ETASeconds        float64       `json:"eta_seconds"`
	ETABand           ETABand       `json:"eta_band"`
	HasRoute          bool          `json:"has_route"`
	Route             []types.Point `json:"route,omitempty"`
	Stale             bool          `json:"stale"`
	SourceUnavailable bool          `json:"source_unavailable"`
	Fallback          bool          `json:"fallback"`
	Version           uint64        `json:"version"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

type SessionConfig struct {
	Sampler      SamplerConfig
	TrailSize    int
	RouteRetries uint64
	RetryInitial time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.TrailSize <= 0 {
		c.TrailSize = DefaultTrailSize
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaultRetryInitial
	}
	return c
}

type Session struct {
	orderID  types.ID
	dest     types.Point
	resolver RouteResolver
	sampler  *Sampler
	cfg      SessionConfig
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu          sync.RWMutex
	closed      bool
	position    *types.Point
	trail       []types.Point
	fallback    bool
	unavailable bool
	route       *maps.Route
	reqSeq      uint64
	routeSeq    uint64
	stale       bool
	version     uint64
	updatedAt   time.Time
	subs        map[int]chan Snapshot
	nextSub     int
}

func newSession(o *order.Order, src Source, resolver RouteResolver, cfg SessionConfig, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	logger = logger.With("order_id", o.ID)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		orderID:   o.ID,
		dest:      o.Destination,
		resolver:  resolver,
		sampler:   NewSampler(src, cfg.Sampler, logger),
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[int]chan Snapshot),
		updatedAt: time.Now(),
	}
}

func (s *Session) start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sampler.Run(s.ctx, s.onSample)
	}()
}

func (s *Session) OrderID() types.ID { return s.orderID }

func (s *Session) onSample(ev SampleEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ev.Unavailable {
		s.unavailable = true
	}
	var seq uint64
	if ev.HasReading {
		pos := ev.Reading.Position
		s.position = &pos
		s.fallback = ev.Fallback
		s.trail = append(s.trail, pos)
		if len(s.trail) > s.cfg.TrailSize {
			s.trail = append([]types.Point(nil), s.trail[len(s.trail)-s.cfg.TrailSize:]...)
		}
		s.reqSeq++
		seq = s.reqSeq
	}
	s.publishLocked()
	if seq > 0 {
		// Add is safe here: the sampler goroutine holds the group open.
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if seq > 0 {
		go s.resolveRoute(seq, ev.Reading.Position)
	}
}

// resolveRoute runs one route request with bounded retries. Only a result
// newer than the published one, by request sequence, replaces it.
func (s *Session) resolveRoute(seq uint64, origin types.Point) {
	defer s.wg.Done()

	var route maps.Route
	op := func() error {
		if s.superseded(seq) {
			return backoff.Permanent(errSuperseded)
		}
		r, err := s.resolver.Resolve(s.ctx, origin, s.dest)
		if err != nil {
			if s.ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		route = r
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.RetryInitial
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, s.cfg.RouteRetries), s.ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		s.logger.Warn("route resolution retry", "seq", seq, "wait", wait, "error", err)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || errors.Is(err, errSuperseded) {
		return
	}
	if seq <= s.routeSeq {
		return
	}
	if err != nil {
		s.logger.Warn("route unavailable, keeping last route", "seq", seq, "error", err)
		if !s.stale {
			s.stale = true
			s.publishLocked()
		}
		return
	}
	s.route = &route
	s.routeSeq = seq
	s.stale = false
	s.publishLocked()
}

func (s *Session) superseded(seq uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return seq < s.reqSeq || s.closed
}

// Snapshot returns the current view, or ErrNotTrackable after Close.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, ErrNotTrackable
	}
	return s.snapshotLocked(), nil
}

// Subscribe returns a channel that always holds the most recent snapshot;
// slow readers skip intermediate ones. The channel is closed on Close or
// when the returned cancel func runs.
func (s *Session) Subscribe() (<-chan Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrNotTrackable
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- s.snapshotLocked()
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// Close stops sampling, waits for in-flight route work and drops all state.
// It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()

		s.mu.Lock()
		s.position = nil
		s.trail = nil
		s.route = nil
		s.mu.Unlock()
		s.logger.Info("tracking session closed")
	})
}

func (s *Session) publishLocked() {
	s.version++
	s.updatedAt = time.Now()
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		OrderID:           s.orderID,
		Status:            order.StatusPickedUp,
		Live:              true,
		Destination:       s.dest,
		Stale:             s.stale,
		SourceUnavailable: s.unavailable,
		Fallback:          s.fallback,
		Version:           s.version,
		UpdatedAt:         s.updatedAt,
	}
	if s.position != nil {
		pos := *s.position
		snap.Position = &pos
		snap.Trail = append([]types.Point(nil), s.trail...)
	}

	switch {
	case s.route != nil:
		snap.HasRoute = true
		snap.DistanceMeters = s.route.DistanceMeters
		snap.ETASeconds = s.route.ETASeconds()
		snap.ETABand = BandForRoute(snap.ETASeconds)
		snap.Route = append([]types.Point(nil), s.route.Polyline...)
	case s.position != nil:
		snap.DistanceMeters = geo.DistanceMeters(*s.position, s.dest)
		snap.ETABand = BandForDistance(snap.DistanceMeters)
		snap.ETASeconds = snap.ETABand.Seconds()
	default:
		snap.ETABand = BandForStatus(order.StatusPickedUp)
		snap.ETASeconds = snap.ETABand.Seconds()
	}
	return snap
}
