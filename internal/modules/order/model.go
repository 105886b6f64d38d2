// README: Order aggregate, status/role definitions and the transition graph.
package order

import (
	"fmt"
	"strings"
	"time"

	"foodtrack/internal/types"
)

type Status string

const (
	StatusNone      Status = "NONE"
	StatusPlaced    Status = "PLACED"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusPickedUp  Status = "PICKED_UP"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every status an order can hold, in lifecycle order.
var AllStatuses = []Status{
	StatusPlaced, StatusConfirmed, StatusPreparing, StatusReady,
	StatusPickedUp, StatusDelivered, StatusCancelled,
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleChef     Role = "chef"
	RoleDelivery Role = "delivery"
	RoleSystem   Role = "system"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	PaymentEsewa          PaymentMethod = "ESEWA"
)

type Actor struct {
	ID   types.ID
	Role Role
}

type Item struct {
	ID         types.ID    `json:"id"`
	FoodItemID types.ID    `json:"food_item_id"`
	Quantity   int         `json:"quantity"`
	UnitPrice  types.Money `json:"unit_price"`
}

func (i Item) Subtotal() types.Money {
	return i.UnitPrice.Times(i.Quantity)
}

type Order struct {
	ID              types.ID
	CustomerID      types.ID
	Status          Status
	StatusVersion   int
	Items           []Item
	Total           types.Money
	Destination     types.Point
	DeliveryAddress string
	DeliveryPhone   string
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	TransactionID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PickedUpAt      *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  Role
	ActorID    *types.ID
	CreatedAt  time.Time
}

// StatusChange is emitted to collaborators after a transition is persisted.
type StatusChange struct {
	Order *Order
	From  Status
	To    Status
	Actor Actor
	At    time.Time
}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusPlaced:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusPickedUp},
	StatusPickedUp:  {StatusDelivered},
}

// advanceActors names the only role allowed to move an order into each
// status through Advance. CANCELLED is reached through Cancel only.
var advanceActors = map[Status]Role{
	StatusConfirmed: RoleChef,
	StatusPreparing: RoleChef,
	StatusReady:     RoleChef,
	StatusPickedUp:  RoleDelivery,
	StatusDelivered: RoleDelivery,
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// CanAdvance reports whether role may move an order from from to to.
func CanAdvance(from, to Status, role Role) bool {
	actor, ok := advanceActors[to]
	if !ok || actor != role {
		return false
	}
	return CanTransition(from, to)
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range AllStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrBadRequest, v)
}

func ParseRole(v string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(v))); r {
	case RoleCustomer, RoleChef, RoleDelivery, RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrBadRequest, v)
}

// Cancellable reports whether items may still be withdrawn from the order.
func (s Status) Cancellable() bool {
	return s == StatusPlaced || s == StatusConfirmed || s == StatusPreparing
}

// Trackable reports whether a live tracking session is meaningful.
func (s Status) Trackable() bool {
	return s == StatusPickedUp
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Clone returns a deep copy safe to mutate without affecting o.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	cp.PickedUpAt = cloneTime(o.PickedUpAt)
	cp.DeliveredAt = cloneTime(o.DeliveredAt)
	cp.CancelledAt = cloneTime(o.CancelledAt)
	return &cp
}

// RecomputeTotal sets Total to the sum of unitPrice × quantity over Items.
func (o *Order) RecomputeTotal() {
	total := types.Money{Currency: o.Total.Currency}
	for _, it := range o.Items {
		total = total.Plus(it.Subtotal())
	}
	o.Total = total
}

func (o *Order) HasItem(id types.ID) bool {
	for _, it := range o.Items {
		if it.ID == id {
			return true
		}
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
