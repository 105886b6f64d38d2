// README: Order service tests (state machine, partial cancellation, payment).
package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodtrack/internal/types"
)

var (
	chef     = Actor{ID: "chef_1", Role: RoleChef}
	rider    = Actor{ID: "rider_1", Role: RoleDelivery}
	customer = Actor{ID: "cust_1", Role: RoleCustomer}
)

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPlaced, StatusConfirmed, true},
		{StatusConfirmed, StatusPreparing, true},
		{StatusPreparing, StatusReady, true},
		{StatusReady, StatusPickedUp, true},
		{StatusPickedUp, StatusDelivered, true},
		// cancellation only before the food is ready
		{StatusPlaced, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusReady, StatusCancelled, false},
		{StatusPickedUp, StatusCancelled, false},
		// terminal states have no outgoing transitions
		{StatusDelivered, StatusPlaced, false},
		{StatusCancelled, StatusPlaced, false},
		// skipping and reversing
		{StatusPlaced, StatusPreparing, false},
		{StatusConfirmed, StatusPickedUp, false},
		{StatusReady, StatusPreparing, false},
		{StatusPlaced, StatusPlaced, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanAdvanceRoles(t *testing.T) {
	cases := []struct {
		from, to Status
		role     Role
		want     bool
	}{
		{StatusPlaced, StatusConfirmed, RoleChef, true},
		{StatusPlaced, StatusConfirmed, RoleCustomer, false},
		{StatusPlaced, StatusConfirmed, RoleDelivery, false},
		{StatusPreparing, StatusReady, RoleChef, true},
		{StatusReady, StatusPickedUp, RoleDelivery, true},
		{StatusReady, StatusPickedUp, RoleChef, false},
		{StatusPickedUp, StatusDelivered, RoleDelivery, true},
		{StatusPickedUp, StatusDelivered, RoleSystem, false},
		{StatusPlaced, StatusCancelled, RoleCustomer, false},
	}
	for _, tc := range cases {
		got := CanAdvance(tc.from, tc.to, tc.role)
		if got != tc.want {
			t.Errorf("CanAdvance(%s, %s, %s) = %v, want %v", tc.from, tc.to, tc.role, got, tc.want)
		}
	}
}

func TestParseStatusAndRole(t *testing.T) {
	s, err := ParseStatus(" picked_up ")
	require.NoError(t, err)
	assert.Equal(t, StatusPickedUp, s)

	_, err = ParseStatus("LOST")
	assert.ErrorIs(t, err, ErrBadRequest)

	r, err := ParseRole("Chef")
	require.NoError(t, err)
	assert.Equal(t, RoleChef, r)

	_, err = ParseRole("admin")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestOrderFlowHappyPath(t *testing.T) {
	ctx := context.Background()
	rec := &recordingNotifier{}
	pay := &recordingPayments{}
	svc := NewService(NewMemoryStore(), WithNotifier(rec), WithPaymentNotifier(pay))

	o := mustPlaceOrder(t, svc, "cust_1")
	assert.Equal(t, StatusPlaced, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.EqualValues(t, 250, o.Total.Amount)

	steps := []struct {
		target Status
		actor  Actor
	}{
		{StatusConfirmed, chef},
		{StatusPreparing, chef},
		{StatusReady, chef},
		{StatusPickedUp, rider},
		{StatusDelivered, rider},
	}
	for _, st := range steps {
		got, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: st.target, Actor: st.actor})
		require.NoError(t, err, "advance to %s", st.target)
		assert.Equal(t, st.target, got.Status)
	}

	final, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, final.Status)
	assert.NotNil(t, final.PickedUpAt)
	assert.NotNil(t, final.DeliveredAt)

	history, err := svc.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.Equal(t, StatusNone, history[0].FromStatus)
	assert.Equal(t, StatusPlaced, history[0].ToStatus)
	assert.Equal(t, StatusDelivered, history[5].ToStatus)
	assert.Equal(t, RoleDelivery, history[5].ActorType)

	assert.Equal(t, []Status{
		StatusPlaced, StatusConfirmed, StatusPreparing, StatusReady, StatusPickedUp, StatusDelivered,
	}, rec.targets())

	// cash on delivery still pending at hand-over
	require.Len(t, pay.orders, 1)
	assert.Equal(t, o.ID, pay.orders[0])
}

func TestAdvanceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rec := &recordingNotifier{}
	svc := NewService(NewMemoryStore(), WithNotifier(rec))
	o := mustPlaceOrder(t, svc, "cust_1")

	first, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: StatusConfirmed, Actor: chef})
	require.NoError(t, err)
	second, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: StatusConfirmed, Actor: chef})
	require.NoError(t, err)

	assert.Equal(t, first.StatusVersion, second.StatusVersion)
	assert.Equal(t, []Status{StatusPlaced, StatusConfirmed}, rec.targets())

	history, err := svc.History(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// once the order has moved on, the old target is no longer a no-op
	_, err = svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: StatusPreparing, Actor: chef})
	require.NoError(t, err)
	_, err = svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: StatusConfirmed, Actor: chef})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvanceRejectsWrongRoleAndSkips(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	o := mustPlaceOrder(t, svc, "cust_1")

	_, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: StatusConfirmed, Actor: customer})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: StatusReady, Actor: chef})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: StatusCancelled, Actor: chef})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Advance(ctx, AdvanceCommand{OrderID: "missing", Target: StatusConfirmed, Actor: chef})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPlaced, got.Status)
	assert.Equal(t, 0, got.StatusVersion)
}

func TestPartialCancellation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	o := mustPlaceOrder(t, svc, "cust_1")
	itemA, itemB := o.Items[0].ID, o.Items[1].ID

	_, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: StatusConfirmed, Actor: chef})
	require.NoError(t, err)

	got, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ItemIDs: []types.ID{itemA}, Actor: customer})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.EqualValues(t, 50, got.Total.Amount)
	require.Len(t, got.Items, 1)
	assert.Equal(t, itemB, got.Items[0].ID)

	got, err = svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ItemIDs: []types.ID{itemB}, Actor: customer})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.EqualValues(t, 0, got.Total.Amount)
	assert.Equal(t, PaymentCancelled, got.PaymentStatus)
	assert.NotNil(t, got.CancelledAt)
}

func TestCancelAllItemsAtOnce(t *testing.T) {
	ctx := context.Background()
	rec := &recordingNotifier{}
	svc := NewService(NewMemoryStore(), WithNotifier(rec))
	o := mustPlaceOrder(t, svc, "cust_1")

	got, err := svc.Cancel(ctx, CancelCommand{
		OrderID: o.ID,
		ItemIDs: []types.ID{o.Items[0].ID, o.Items[1].ID},
		Actor:   customer,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Empty(t, got.Items)
	assert.Equal(t, []Status{StatusPlaced, StatusCancelled}, rec.targets())
}

func TestCancelUnknownItemIsAtomic(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	o := mustPlaceOrder(t, svc, "cust_1")

	_, err := svc.Cancel(ctx, CancelCommand{
		OrderID: o.ID,
		ItemIDs: []types.ID{o.Items[0].ID, "nope"},
		Actor:   customer,
	})
	assert.ErrorIs(t, err, ErrUnknownItem)

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.EqualValues(t, 250, got.Total.Amount)
	assert.Equal(t, o.StatusVersion, got.StatusVersion)
}

func TestCancelInvalidRequests(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	o := mustPlaceOrder(t, svc, "cust_1")
	item := []types.ID{o.Items[0].ID}

	_, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, Actor: customer})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ItemIDs: item, Actor: Actor{ID: "cust_2", Role: RoleCustomer}})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ItemIDs: item, Actor: chef})
	assert.ErrorIs(t, err, ErrForbidden)

	for _, target := range []Status{StatusConfirmed, StatusPreparing, StatusReady} {
		_, err = svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, Target: target, Actor: chef})
		require.NoError(t, err)
	}
	_, err = svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ItemIDs: item, Actor: customer})
	assert.ErrorIs(t, err, ErrOrderNotCancellable)

	// delivery agents may cancel on the customer's behalf while cancellable
	other := mustPlaceOrder(t, svc, "cust_9")
	_, err = svc.Cancel(ctx, CancelCommand{OrderID: other.ID, ItemIDs: []types.ID{other.Items[1].ID}, Actor: rider})
	assert.NoError(t, err)
}

func TestPlaceValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	base := validPlaceCommand("cust_1")
	cases := map[string]func(*PlaceCommand){
		"no items":        func(c *PlaceCommand) { c.Items = nil },
		"zero quantity":   func(c *PlaceCommand) { c.Items[0].Quantity = 0 },
		"no address":      func(c *PlaceCommand) { c.DeliveryAddress = "" },
		"bad destination": func(c *PlaceCommand) { c.Destination = types.Point{Lat: 120} },
		"bad method":      func(c *PlaceCommand) { c.PaymentMethod = "BARTER" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := base
			cmd.Items = append([]PlaceItem(nil), base.Items...)
			mutate(&cmd)
			_, err := svc.Place(ctx, cmd)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}
}

func TestMarkPaymentCollected(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	o := mustPlaceOrder(t, svc, "cust_1")

	_, err := svc.MarkPaymentCollected(ctx, CollectPaymentCommand{OrderID: o.ID, Actor: customer})
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := svc.MarkPaymentCollected(ctx, CollectPaymentCommand{OrderID: o.ID, Actor: rider})
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, StatusPlaced, got.Status)

	again, err := svc.MarkPaymentCollected(ctx, CollectPaymentCommand{OrderID: o.ID, Actor: rider})
	require.NoError(t, err)
	assert.Equal(t, got.StatusVersion, again.StatusVersion)
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	cmd := validPlaceCommand("cust_1")
	cmd.PaymentMethod = PaymentEsewa
	cmd.TransactionID = "txn_42"
	o, err := svc.Place(ctx, cmd)
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(ctx, ConfirmPaymentCommand{TransactionID: "txn_42", Amount: 200})
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	_, err = svc.ConfirmPayment(ctx, ConfirmPaymentCommand{TransactionID: "txn_missing", Amount: 250})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{TransactionID: "txn_42", Amount: 250})
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, PaymentCompleted, got.PaymentStatus)

	// cash collection is not valid for online payments
	_, err = svc.MarkPaymentCollected(ctx, CollectPaymentCommand{OrderID: o.ID, Actor: rider})
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestListQueries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryStore(), WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	a := mustPlaceOrder(t, svc, "cust_1")
	b := mustPlaceOrder(t, svc, "cust_1")
	c := mustPlaceOrder(t, svc, "cust_2")
	_, err := svc.Advance(ctx, AdvanceCommand{OrderID: b.ID, Target: StatusConfirmed, Actor: chef})
	require.NoError(t, err)

	mine, err := svc.ListByCustomer(ctx, "cust_1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a.ID, mine[0].ID)
	assert.Equal(t, b.ID, mine[1].ID)

	placed, err := svc.ListByStatus(ctx, StatusPlaced)
	require.NoError(t, err)
	ids := []types.ID{}
	for _, o := range placed {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []types.ID{a.ID, c.ID}, ids)

	all, err := svc.ListByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestErrorsWrapSentinels(t *testing.T) {
	svc := NewService(NewMemoryStore())
	o := mustPlaceOrder(t, svc, "cust_1")
	_, err := svc.Advance(context.Background(), AdvanceCommand{OrderID: o.ID, Target: StatusDelivered, Actor: rider})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "PLACED -> DELIVERED")
}

func validPlaceCommand(customerID types.ID) PlaceCommand {
	return PlaceCommand{
		CustomerID: customerID,
		Items: []PlaceItem{
			{FoodItemID: "momo", Quantity: 2, UnitPrice: 100},
			{FoodItemID: "lassi", Quantity: 1, UnitPrice: 50},
		},
		Destination:     types.Point{Lat: 27.7172, Lng: 85.3240},
		DeliveryAddress: "Thamel, Kathmandu",
		DeliveryPhone:   "9800000000",
		PaymentMethod:   PaymentCashOnDelivery,
	}
}

func mustPlaceOrder(t *testing.T, svc *Service, customerID types.ID) *Order {
	t.Helper()
	o, err := svc.Place(context.Background(), validPlaceCommand(customerID))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return o
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []StatusChange
}

func (r *recordingNotifier) OrderStatusChanged(_ context.Context, c StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recordingNotifier) targets() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.To)
	}
	return out
}

type recordingPayments struct {
	orders []types.ID
}

func (r *recordingPayments) PaymentCollectionRequested(_ context.Context, o *Order) {
	r.orders = append(r.orders, o.ID)
}
