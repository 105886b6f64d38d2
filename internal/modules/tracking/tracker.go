// README: Tracker owns one Session per picked-up order and follows order status changes.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

// OrderReader is the slice of the order service the tracker reads.
type OrderReader interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	ListByStatus(ctx context.Context, statuses ...order.Status) ([]*order.Order, error)
}

// SourceFactory builds the position source for a newly opened session.
type SourceFactory func(o *order.Order) Source

// Publisher fans snapshots out beyond this process.
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

type Tracker struct {
	orders    OrderReader
	resolver  RouteResolver
	sources   SourceFactory
	publisher Publisher
	cfg       SessionConfig
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[types.ID]*Session
	// finished holds orders seen reaching a terminal status, so a caller
	// holding an older read of the order cannot reopen tracking.
	finished map[types.ID]time.Time
}

// finishedRetention bounds how long a terminal order id is remembered.
const finishedRetention = 10 * time.Minute

type TrackerOption func(*Tracker)

func WithPublisher(p Publisher) TrackerOption {
	return func(t *Tracker) { t.publisher = p }
}

func WithSessionConfig(cfg SessionConfig) TrackerOption {
	return func(t *Tracker) { t.cfg = cfg }
}

func NewTracker(orders OrderReader, resolver RouteResolver, sources SourceFactory, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		orders:   orders,
		resolver: resolver,
		sources:  sources,
		logger:   logger.With("component", "tracker"),
		sessions: make(map[types.ID]*Session),
		finished: make(map[types.ID]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open starts tracking o. Opening an already tracked order returns the
// existing session. Orders already seen delivered or cancelled are refused
// even when o is an older copy that still reads PICKED_UP.
func (t *Tracker) Open(o *order.Order) (*Session, error) {
	if !o.Status.Trackable() {
		return nil, fmt.Errorf("%w: status %s", ErrNotTrackable, o.Status)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, done := t.finished[o.ID]; done {
		return nil, fmt.Errorf("%w: order %s already finished", ErrNotTrackable, o.ID)
	}
	if s, ok := t.sessions[o.ID]; ok {
		return s, nil
	}
	s := newSession(o, t.sources(o), t.resolver, t.cfg, t.logger)
	s.start()
	if t.publisher != nil {
		t.forward(s)
	}
	t.sessions[o.ID] = s
	t.logger.Info("tracking session opened", "order_id", o.ID)
	return s, nil
}

// Close ends tracking for orderID. Unknown ids are ignored.
func (t *Tracker) Close(orderID types.ID) {
	t.closeSession(orderID, false)
}

func (t *Tracker) closeSession(orderID types.ID, finished bool) {
	t.mu.Lock()
	s, ok := t.sessions[orderID]
	delete(t.sessions, orderID)
	if finished {
		t.finished[orderID] = time.Now()
	}
	t.mu.Unlock()
	if ok {
		s.Close()
	}
}

// pruneFinished forgets terminal ids older than finishedRetention.
func (t *Tracker) pruneFinished(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, at := range t.finished {
		if now.Sub(at) > finishedRetention {
			delete(t.finished, id)
		}
	}
}

// OrderStatusChanged opens a session on pickup and closes it once the order
// leaves the trackable states.
func (t *Tracker) OrderStatusChanged(_ context.Context, change order.StatusChange) {
	switch {
	case change.To.Trackable():
		if _, err := t.Open(change.Order); err != nil {
			t.logger.Error("open tracking session", "order_id", change.Order.ID, "error", err)
		}
	case change.To.Terminal():
		t.closeSession(change.Order.ID, true)
	}
}

func (t *Tracker) session(id types.ID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Snapshot returns the live view for a picked-up order and a static band
// estimate for orders that are not yet picked up.
func (t *Tracker) Snapshot(ctx context.Context, orderID types.ID) (Snapshot, error) {
	if s, ok := t.session(orderID); ok {
		if snap, err := s.Snapshot(); err == nil {
			return snap, nil
		}
	}
	o, err := t.orders.Get(ctx, orderID)
	if err != nil {
		return Snapshot{}, err
	}
	switch {
	case o.Status.Terminal():
		return Snapshot{}, fmt.Errorf("%w: status %s", ErrNotTrackable, o.Status)
	case o.Status.Trackable():
		s, err := t.Open(o)
		if err != nil {
			return Snapshot{}, err
		}
		return s.Snapshot()
	}
	band := BandForStatus(o.Status)
	return Snapshot{
		OrderID:     o.ID,
		Status:      o.Status,
		Destination: o.Destination,
		ETABand:     band,
		ETASeconds:  band.Seconds(),
		UpdatedAt:   time.Now(),
	}, nil
}

// Subscribe streams live snapshots of a picked-up order.
func (t *Tracker) Subscribe(ctx context.Context, orderID types.ID) (<-chan Snapshot, func(), error) {
	s, ok := t.session(orderID)
	if !ok {
		o, err := t.orders.Get(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}
		if s, err = t.Open(o); err != nil {
			return nil, nil, err
		}
	}
	return s.Subscribe()
}

// Reconcile reopens sessions for every picked-up order and closes sessions
// whose order moved on. It rebuilds tracking state after a restart.
func (t *Tracker) Reconcile(ctx context.Context) error {
	active, err := t.orders.ListByStatus(ctx, order.StatusPickedUp)
	if err != nil {
		return fmt.Errorf("list picked up orders: %w", err)
	}
	want := make(map[types.ID]struct{}, len(active))
	opened := 0
	for _, o := range active {
		want[o.ID] = struct{}{}
		if _, ok := t.session(o.ID); ok {
			continue
		}
		if _, err := t.Open(o); err != nil {
			t.logger.ErrorContext(ctx, "reopen tracking session", "order_id", o.ID, "error", err)
			continue
		}
		opened++
	}

	closed := 0
	for _, id := range t.Active() {
		if _, ok := want[id]; ok {
			continue
		}
		o, err := t.orders.Get(ctx, id)
		if err != nil && !errors.Is(err, order.ErrNotFound) {
			continue
		}
		if err == nil && o.Status.Trackable() {
			continue
		}
		t.closeSession(id, err == nil && o.Status.Terminal())
		closed++
	}
	t.pruneFinished(time.Now())
	if opened > 0 || closed > 0 {
		t.logger.InfoContext(ctx, "tracking reconciled", "opened", opened, "closed", closed)
	}
	return nil
}

func (t *Tracker) Active() []types.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]types.ID, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown closes every session.
func (t *Tracker) Shutdown() {
	for _, id := range t.Active() {
		t.Close(id)
	}
}

// forward relays every snapshot of s to the publisher until s closes.
func (t *Tracker) forward(s *Session) {
	ch, _, err := s.Subscribe()
	if err != nil {
		return
	}
	go func() {
		for snap := range ch {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := t.publisher.Publish(ctx, snap); err != nil {
				t.logger.Warn("publish snapshot", "order_id", snap.OrderID, "error", err)
			}
			cancel()
		}
	}()
}
