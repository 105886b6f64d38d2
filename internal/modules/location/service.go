// README: Location service validates agent position submissions and keeps the latest fix per order.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

var (
	ErrInvalidSample  = errors.New("invalid location sample")
	ErrNoSample       = errors.New("no location sample")
	ErrOrderNotActive = errors.New("order not accepting locations")
)

// maxClockSkew bounds how far in the future a device timestamp may be.
const maxClockSkew = time.Minute

// OrderReader is the slice of the order service the location service needs.
type OrderReader interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

type Service struct {
	store  Store
	orders OrderReader
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, orders OrderReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		orders: orders,
		logger: logger.With("component", "location_service"),
		now:    time.Now,
	}
}

type Update struct {
	AgentID        types.ID
	OrderID        types.ID
	Lat            float64
	Lng            float64
	AccuracyMeters float64
	CapturedAt     time.Time
}

// Submit records a position fix for an order that is ready for or in
// delivery. It reports false when a newer fix is already stored.
func (s *Service) Submit(ctx context.Context, u Update) (bool, error) {
	pos := types.Point{Lat: u.Lat, Lng: u.Lng}
	if u.AgentID == "" || u.OrderID == "" || !pos.Valid() || u.AccuracyMeters < 0 {
		return false, ErrInvalidSample
	}
	now := s.now()
	capturedAt := u.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}
	if capturedAt.After(now.Add(maxClockSkew)) {
		return false, fmt.Errorf("%w: captured_at in the future", ErrInvalidSample)
	}

	if s.orders != nil {
		o, err := s.orders.Get(ctx, u.OrderID)
		if err != nil {
			return false, err
		}
		if o.Status != order.StatusReady && o.Status != order.StatusPickedUp {
			return false, fmt.Errorf("%w: status %s", ErrOrderNotActive, o.Status)
		}
	}

	accepted, err := s.store.SetLatest(ctx, Sample{
		AgentID:        u.AgentID,
		OrderID:        u.OrderID,
		Position:       pos,
		AccuracyMeters: u.AccuracyMeters,
		CapturedAt:     capturedAt,
	})
	if err != nil {
		return false, err
	}
	if !accepted {
		s.logger.DebugContext(ctx, "stale location ignored", "order_id", u.OrderID, "agent_id", u.AgentID)
	}
	return accepted, nil
}

func (s *Service) Latest(ctx context.Context, orderID types.ID) (Sample, error) {
	return s.store.Latest(ctx, orderID)
}

func (s *Service) Forget(ctx context.Context, orderID types.ID) error {
	return s.store.Forget(ctx, orderID)
}

// OrderStatusChanged drops the stored fix once an order is delivered or
// cancelled.
func (s *Service) OrderStatusChanged(ctx context.Context, change order.StatusChange) {
	if !change.To.Terminal() {
		return
	}
	if err := s.Forget(ctx, change.Order.ID); err != nil {
		s.logger.ErrorContext(ctx, "forget location", "order_id", change.Order.ID, "error", err)
	}
}
