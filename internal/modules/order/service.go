// README: Order service implements the role-gated state machine, partial
// cancellation and payment bookkeeping on top of a Store.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"foodtrack/internal/types"
)

var (
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrNotFound            = errors.New("order not found")
	ErrConflict            = errors.New("order state conflict")
	ErrOrderNotCancellable = errors.New("order not cancellable")
	ErrUnknownItem         = errors.New("unknown order item")
	ErrBadRequest          = errors.New("bad request")
	ErrForbidden           = errors.New("forbidden")
	ErrPaymentMismatch     = errors.New("payment amount mismatch")
	ErrInvalidPayment      = errors.New("invalid payment state")
)

// maxSaveAttempts bounds re-reads after losing an optimistic write to a
// writer in another process.
const maxSaveAttempts = 3

const defaultCurrency = "NPR"

// Notifier receives every persisted status change, in order, per order id.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, change StatusChange)
}

// PaymentNotifier is told when a cash order was delivered with payment
// still pending so the payment subsystem can settle it.
type PaymentNotifier interface {
	PaymentCollectionRequested(ctx context.Context, o *Order)
}

// Notifiers fans a change out to several collaborators.
type Notifiers []Notifier

func (n Notifiers) OrderStatusChanged(ctx context.Context, change StatusChange) {
	for _, x := range n {
		x.OrderStatusChanged(ctx, change)
	}
}

type Service struct {
	store    Store
	locks    *keyedMutex
	notifier Notifier
	payments PaymentNotifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithPaymentNotifier(p PaymentNotifier) Option {
	return func(s *Service) { s.payments = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locks:  newKeyedMutex(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "order_service")
	return s
}

// SetNotifier replaces the status-change notifier. It exists for wiring
// collaborators that themselves depend on the service.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

type PlaceItem struct {
	FoodItemID types.ID
	Quantity   int
	UnitPrice  int64
}

type PlaceCommand struct {
	CustomerID      types.ID
	Items           []PlaceItem
	Currency        string
	Destination     types.Point
	DeliveryAddress string
	DeliveryPhone   string
	PaymentMethod   PaymentMethod
	TransactionID   string
}

type AdvanceCommand struct {
	OrderID types.ID
	Target  Status
	Actor   Actor
}

type CancelCommand struct {
	OrderID types.ID
	ItemIDs []types.ID
	Actor   Actor
}

type CollectPaymentCommand struct {
	OrderID types.ID
	Actor   Actor
}

type ConfirmPaymentCommand struct {
	TransactionID string
	Amount        int64
}

func (s *Service) Place(ctx context.Context, cmd PlaceCommand) (*Order, error) {
	if cmd.CustomerID == "" || len(cmd.Items) == 0 || cmd.DeliveryAddress == "" || cmd.DeliveryPhone == "" {
		return nil, fmt.Errorf("%w: customer, items, address and phone are required", ErrBadRequest)
	}
	if !cmd.Destination.Valid() {
		return nil, fmt.Errorf("%w: invalid destination", ErrBadRequest)
	}
	switch cmd.PaymentMethod {
	case PaymentCashOnDelivery, PaymentEsewa:
	default:
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrBadRequest, cmd.PaymentMethod)
	}
	currency := cmd.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	items := make([]Item, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		if it.FoodItemID == "" || it.Quantity < 1 || it.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: invalid item %q", ErrBadRequest, it.FoodItemID)
		}
		items = append(items, Item{
			ID:         newID(),
			FoodItemID: it.FoodItemID,
			Quantity:   it.Quantity,
			UnitPrice:  types.Money{Amount: it.UnitPrice, Currency: currency},
		})
	}

	now := s.now()
	o := &Order{
		ID:              newID(),
		CustomerID:      cmd.CustomerID,
		Status:          StatusPlaced,
		Items:           items,
		Total:           types.Money{Currency: currency},
		Destination:     cmd.Destination,
		DeliveryAddress: cmd.DeliveryAddress,
		DeliveryPhone:   cmd.DeliveryPhone,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   PaymentPending,
		TransactionID:   cmd.TransactionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.RecomputeTotal()
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, o, StatusNone, Actor{ID: cmd.CustomerID, Role: RoleCustomer}, now)
	return o, nil
}

// Advance moves an order to its next status on behalf of actor. Re-issuing a
// transition that is already applied succeeds without side effects.
func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	if cmd.OrderID == "" || cmd.Target == "" {
		return nil, ErrBadRequest
	}
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		o, err := s.store.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if o.Status == cmd.Target && advanceActors[cmd.Target] == cmd.Actor.Role {
			return o, nil
		}
		if !CanAdvance(o.Status, cmd.Target, cmd.Actor.Role) {
			return nil, fmt.Errorf("%w: %s -> %s by %s", ErrInvalidTransition, o.Status, cmd.Target, cmd.Actor.Role)
		}

		now := s.now()
		next := o.Clone()
		next.Status = cmd.Target
		next.UpdatedAt = now
		switch cmd.Target {
		case StatusPickedUp:
			next.PickedUpAt = &now
		case StatusDelivered:
			next.DeliveredAt = &now
		}

		ok, err := s.store.Save(ctx, next, o.StatusVersion)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		next.StatusVersion = o.StatusVersion + 1
		s.recordTransition(ctx, next, o.Status, cmd.Actor, now)

		if cmd.Target == StatusDelivered && next.PaymentMethod == PaymentCashOnDelivery &&
			next.PaymentStatus == PaymentPending && s.payments != nil {
			s.payments.PaymentCollectionRequested(ctx, next)
		}
		return next, nil
	}
	return nil, ErrConflict
}

// Cancel withdraws a set of items from an order. Either every listed item is
// removed or none is; an order left without items becomes CANCELLED.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	if cmd.OrderID == "" || len(cmd.ItemIDs) == 0 {
		return nil, fmt.Errorf("%w: order id and item ids are required", ErrBadRequest)
	}
	if cmd.Actor.Role != RoleCustomer && cmd.Actor.Role != RoleDelivery {
		return nil, fmt.Errorf("%w: %s may not cancel orders", ErrForbidden, cmd.Actor.Role)
	}
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		o, err := s.store.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if cmd.Actor.Role == RoleCustomer && o.CustomerID != cmd.Actor.ID {
			return nil, fmt.Errorf("%w: order belongs to another customer", ErrForbidden)
		}
		if !o.Status.Cancellable() {
			return nil, fmt.Errorf("%w: status %s", ErrOrderNotCancellable, o.Status)
		}

		drop := make(map[types.ID]struct{}, len(cmd.ItemIDs))
		for _, id := range cmd.ItemIDs {
			if !o.HasItem(id) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
			}
			drop[id] = struct{}{}
		}

		now := s.now()
		next := o.Clone()
		next.Items = next.Items[:0]
		for _, it := range o.Items {
			if _, gone := drop[it.ID]; !gone {
				next.Items = append(next.Items, it)
			}
		}
		next.RecomputeTotal()
		next.UpdatedAt = now
		if len(next.Items) == 0 {
			next.Status = StatusCancelled
			next.CancelledAt = &now
			if next.PaymentStatus == PaymentPending {
				next.PaymentStatus = PaymentCancelled
			}
		}

		ok, err := s.store.Save(ctx, next, o.StatusVersion)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		next.StatusVersion = o.StatusVersion + 1
		s.logger.InfoContext(ctx, "order items cancelled",
			"order_id", next.ID, "items", len(drop), "remaining", len(next.Items), "total", next.Total.Amount)
		if next.Status == StatusCancelled {
			s.recordTransition(ctx, next, o.Status, cmd.Actor, now)
		}
		return next, nil
	}
	return nil, ErrConflict
}

// MarkPaymentCollected records cash handed to the delivery agent.
func (s *Service) MarkPaymentCollected(ctx context.Context, cmd CollectPaymentCommand) (*Order, error) {
	if cmd.Actor.Role != RoleDelivery {
		return nil, fmt.Errorf("%w: only delivery agents collect cash", ErrForbidden)
	}
	return s.updatePayment(ctx, cmd.OrderID, func(o *Order) error {
		if o.PaymentMethod != PaymentCashOnDelivery {
			return fmt.Errorf("%w: payment method is %s", ErrInvalidPayment, o.PaymentMethod)
		}
		return nil
	})
}

// ConfirmPayment settles an online payment reported by the payment provider.
// The reported amount must match the current order total exactly.
func (s *Service) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (*Order, error) {
	if cmd.TransactionID == "" || cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: transaction id and positive amount are required", ErrBadRequest)
	}
	o, err := s.store.FindByTransaction(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	return s.updatePayment(ctx, o.ID, func(o *Order) error {
		if o.Total.Amount != cmd.Amount {
			return fmt.Errorf("%w: expected %d, got %d", ErrPaymentMismatch, o.Total.Amount, cmd.Amount)
		}
		return nil
	})
}

func (s *Service) updatePayment(ctx context.Context, id types.ID, check func(*Order) error) (*Order, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := check(o); err != nil {
			return nil, err
		}
		switch o.PaymentStatus {
		case PaymentCompleted:
			return o, nil
		case PaymentPending:
		default:
			return nil, fmt.Errorf("%w: payment is %s", ErrInvalidPayment, o.PaymentStatus)
		}
		next := o.Clone()
		next.PaymentStatus = PaymentCompleted
		next.UpdatedAt = s.now()
		ok, err := s.store.Save(ctx, next, o.StatusVersion)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		next.StatusVersion = o.StatusVersion + 1
		s.logger.InfoContext(ctx, "payment completed", "order_id", next.ID, "method", next.PaymentMethod)
		return next, nil
	}
	return nil, ErrConflict
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

// ListByStatus returns orders in any of statuses; no statuses means all.
func (s *Service) ListByStatus(ctx context.Context, statuses ...Status) ([]*Order, error) {
	if len(statuses) == 0 {
		statuses = AllStatuses
	}
	return s.store.ListByStatus(ctx, statuses)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID types.ID, statuses ...Status) ([]*Order, error) {
	if customerID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListByCustomer(ctx, customerID, statuses)
}

// History returns the persisted status events of an order, oldest first.
func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

func (s *Service) recordTransition(ctx context.Context, o *Order, from Status, actor Actor, at time.Time) {
	var actorID *types.ID
	if actor.ID != "" {
		id := actor.ID
		actorID = &id
	}
	if err := s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   o.Status,
		ActorType:  actor.Role,
		ActorID:    actorID,
		CreatedAt:  at,
	}); err != nil {
		s.logger.ErrorContext(ctx, "append order event", "order_id", o.ID, "error", err)
	}
	s.logger.InfoContext(ctx, "order status changed",
		"order_id", o.ID, "from", from, "to", o.Status, "actor", actor.Role)

	if s.notifier != nil {
		s.notifier.OrderStatusChanged(ctx, StatusChange{
			Order: o.Clone(),
			From:  from,
			To:    o.Status,
			Actor: actor,
			At:    at,
		})
	}
}

func newID() types.ID {
	return types.ID(uuid.NewString())
}
