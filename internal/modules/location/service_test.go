package location

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

type fakeOrders map[types.ID]order.Status

func (f fakeOrders) Get(_ context.Context, id types.ID) (*order.Order, error) {
	st, ok := f[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &order.Order{ID: id, Status: st}, nil
}

func TestSubmitStoresLatest(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), fakeOrders{"o1": order.StatusPickedUp}, nil)
	t0 := time.Now().Add(-time.Minute)

	ok, err := svc.Submit(ctx, Update{AgentID: "a1", OrderID: "o1", Lat: 27.70, Lng: 85.32, CapturedAt: t0})
	require.NoError(t, err)
	assert.True(t, ok)

	// an older fix never replaces a newer one
	ok, err = svc.Submit(ctx, Update{AgentID: "a1", OrderID: "o1", Lat: 27.60, Lng: 85.30, CapturedAt: t0.Add(-time.Second)})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := svc.Latest(ctx, "o1")
	require.NoError(t, err)
	assert.InDelta(t, 27.70, got.Position.Lat, 1e-9)
	assert.Equal(t, types.ID("a1"), got.AgentID)
}

func TestTerminalStatusForgetsFix(t *testing.T) {
	ctx := context.Background()
	orders := fakeOrders{"o1": order.StatusPickedUp, "o2": order.StatusPickedUp}
	svc := NewService(NewMemoryStore(), orders, nil)
	for _, id := range []types.ID{"o1", "o2"} {
		_, err := svc.Submit(ctx, Update{AgentID: "a1", OrderID: id, Lat: 27.70, Lng: 85.32})
		require.NoError(t, err)
	}

	// a non-terminal change keeps the fix
	svc.OrderStatusChanged(ctx, order.StatusChange{Order: &order.Order{ID: "o1"}, From: order.StatusReady, To: order.StatusPickedUp})
	_, err := svc.Latest(ctx, "o1")
	require.NoError(t, err)

	svc.OrderStatusChanged(ctx, order.StatusChange{Order: &order.Order{ID: "o1"}, From: order.StatusPickedUp, To: order.StatusDelivered})
	_, err = svc.Latest(ctx, "o1")
	assert.ErrorIs(t, err, ErrNoSample)

	_, err = svc.Latest(ctx, "o2")
	assert.NoError(t, err)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), fakeOrders{
		"placed": order.StatusPlaced,
		"ready":  order.StatusReady,
	}, nil)

	_, err := svc.Submit(ctx, Update{AgentID: "a1", OrderID: "ready", Lat: 95, Lng: 85})
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = svc.Submit(ctx, Update{OrderID: "ready", Lat: 27, Lng: 85})
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = svc.Submit(ctx, Update{AgentID: "a1", OrderID: "ready", Lat: 27, Lng: 85, CapturedAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = svc.Submit(ctx, Update{AgentID: "a1", OrderID: "placed", Lat: 27, Lng: 85})
	assert.ErrorIs(t, err, ErrOrderNotActive)

	_, err = svc.Submit(ctx, Update{AgentID: "a1", OrderID: "missing", Lat: 27, Lng: 85})
	assert.ErrorIs(t, err, order.ErrNotFound)

	ok, err := svc.Submit(ctx, Update{AgentID: "a1", OrderID: "ready", Lat: 27, Lng: 85})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Latest(ctx, "placed")
	assert.ErrorIs(t, err, ErrNoSample)
}

func TestRedisStoreMonotonic(t *testing.T) {
	redisAddr := os.Getenv("FOODTRACK_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("FOODTRACK_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	store := NewRedisStore(rdb)
	ctx := context.Background()
	orderID := types.ID(fmt.Sprintf("order_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = store.Forget(ctx, orderID) })

	now := time.Now().Truncate(time.Millisecond)
	ok, err := store.SetLatest(ctx, Sample{
		AgentID: "agent_test", OrderID: orderID,
		Position: types.Point{Lat: 27.7172, Lng: 85.3240}, AccuracyMeters: 5, CapturedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetLatest(ctx, Sample{
		AgentID: "agent_test", OrderID: orderID,
		Position: types.Point{Lat: 27.0, Lng: 85.0}, CapturedAt: now.Add(-time.Second),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Latest(ctx, orderID)
	require.NoError(t, err)
	assert.InDelta(t, 27.7172, got.Position.Lat, 1e-9)
	assert.InDelta(t, 5.0, got.AccuracyMeters, 1e-9)
	assert.True(t, got.CapturedAt.Equal(now))

	require.NoError(t, store.Forget(ctx, orderID))
	_, err = store.Latest(ctx, orderID)
	assert.ErrorIs(t, err, ErrNoSample)
	n, err := rdb.Exists(ctx, orderKey(orderID)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
