package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httptransport "foodtrack/internal/http"
	"foodtrack/internal/infra"
	"foodtrack/internal/maps"
	"foodtrack/internal/modules/location"
	"foodtrack/internal/modules/order"
	"foodtrack/internal/modules/tracking"
	"foodtrack/internal/types"
)

// tokenVerifier accepts tokens of the form "uid:role".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.Identity, error) {
	uid, role, ok := strings.Cut(raw, ":")
	if !ok || uid == "" {
		return nil, errors.New("malformed token")
	}
	return &infra.Identity{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}

const (
	customerTok = "cust_1:customer"
	otherTok    = "cust_2:customer"
	chefTok     = "chef_1:chef"
	riderTok    = "rider_1:delivery"
	systemTok   = "esewa:system"
)

type apiFixture struct {
	handler  http.Handler
	orders   *order.Service
	location *location.Service
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	orders := order.NewService(order.NewMemoryStore())
	loc := location.NewService(location.NewMemoryStore(), orders, nil)
	resolver := maps.NewResolver(maps.StraightLineProvider{SpeedMPS: 25}, time.Second, nil)
	tracker := tracking.NewTracker(orders, resolver, tracking.AgentSources(loc, tracking.SourceConfig{
		PollInterval: 5 * time.Millisecond,
		SimTick:      5 * time.Millisecond,
		Sim:          tracking.SimConfig{SpeedMPS: 25},
	}, nil), nil, tracking.WithSessionConfig(tracking.SessionConfig{
		Sampler: tracking.SamplerConfig{MinInterval: time.Millisecond},
	}))
	orders.SetNotifier(order.Notifiers{tracker, loc})
	t.Cleanup(tracker.Shutdown)

	srv := httptransport.NewServer(httptransport.ServerDeps{
		Order:    orders,
		Location: loc,
		Tracker:  tracker,
		Verifier: tokenVerifier{},
	})
	return &apiFixture{handler: srv.Routes(), orders: orders, location: loc}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func placeBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"food_item_id": "momo", "quantity": 2, "unit_price": 100},
			{"food_item_id": "tea", "quantity": 1, "unit_price": 50},
		},
		"destination":      map[string]any{"lat": 27.7172, "lng": 85.3240},
		"delivery_address": "Thamel",
		"delivery_phone":   "9800000000",
		"payment_method":   "CASH_ON_DELIVERY",
	}
}

func (f *apiFixture) place(t *testing.T) map[string]any {
	t.Helper()
	w, body := f.do(t, http.MethodPost, "/api/orders", customerTok, placeBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return body
}

func (f *apiFixture) chefAdvance(t *testing.T, id string, statuses ...string) {
	t.Helper()
	for _, s := range statuses {
		w, _ := f.do(t, http.MethodPost, "/api/chef/orders/"+id+"/advance", chefTok, map[string]any{"status": s})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	w, _ := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	f := newAPI(t)
	w, _ := f.do(t, http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeliveryLifecycleOverHTTP(t *testing.T) {
	f := newAPI(t)
	placed := f.place(t)
	id := placed["order_id"].(string)
	assert.Equal(t, "PLACED", placed["status"])
	assert.EqualValues(t, 250, placed["total"])

	f.chefAdvance(t, id, "CONFIRMED", "PREPARING", "READY")

	w, body := f.do(t, http.MethodPost, "/api/delivery/orders/"+id+"/advance", riderTok, map[string]any{"status": "PICKED_UP"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PICKED_UP", body["status"])

	w, body = f.do(t, http.MethodPut, "/api/delivery/location", riderTok, map[string]any{
		"order_id": id, "lat": 27.7080, "lng": 85.3240, "accuracy": 5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["accepted"])

	w, body = f.do(t, http.MethodGet, "/api/orders/"+id+"/tracking", customerTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, id, body["order_id"])
	assert.Equal(t, "PICKED_UP", body["status"])

	w, body = f.do(t, http.MethodPost, "/api/delivery/orders/"+id+"/advance", riderTok, map[string]any{"status": "DELIVERED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "DELIVERED", body["status"])

	w, _ = f.do(t, http.MethodGet, "/api/orders/"+id+"/tracking", customerTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	_, err := f.location.Latest(context.Background(), types.ID(id))
	assert.ErrorIs(t, err, location.ErrNoSample)

	w, body = f.do(t, http.MethodPost, "/api/delivery/orders/"+id+"/payment", riderTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "COMPLETED", body["payment_status"])

	w, body = f.do(t, http.MethodGet, "/api/orders/"+id+"/history", customerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["events"], 6)
}

func TestDeliveryAdvanceRetryIsNoop(t *testing.T) {
	f := newAPI(t)
	id := f.place(t)["order_id"].(string)
	f.chefAdvance(t, id, "CONFIRMED", "PREPARING", "READY")

	path := "/api/delivery/orders/" + id + "/advance"
	pickup := map[string]any{"status": "PICKED_UP"}
	for i := 0; i < 2; i++ {
		w, body := f.do(t, http.MethodPost, path, riderTok, pickup)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "PICKED_UP", body["status"])
	}

	w, _ := f.do(t, http.MethodPost, path, riderTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := f.do(t, http.MethodGet, "/api/orders/"+id, customerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PICKED_UP", body["status"])

	w, _ = f.do(t, http.MethodGet, "/api/orders/"+id+"/tracking", customerTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrackingBeforePickupReturnsBand(t *testing.T) {
	f := newAPI(t)
	id := f.place(t)["order_id"].(string)

	w, body := f.do(t, http.MethodGet, "/api/orders/"+id+"/tracking", customerTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["live"])
	band := body["eta_band"].(map[string]any)
	assert.NotZero(t, band["min_minutes"])
}

func TestRoleAndOwnershipChecks(t *testing.T) {
	f := newAPI(t)
	id := f.place(t)["order_id"].(string)

	w, _ := f.do(t, http.MethodPost, "/api/chef/orders/"+id+"/advance", customerTok, map[string]any{"status": "CONFIRMED"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/orders/"+id, otherTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/orders/"+id, chefTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/orders", chefTok, placeBody())
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Delivery may not skip the kitchen.
	w, _ = f.do(t, http.MethodPost, "/api/delivery/orders/"+id+"/advance", riderTok, map[string]any{"status": "PICKED_UP"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = f.do(t, http.MethodPut, "/api/delivery/location", riderTok, map[string]any{
		"order_id": id, "lat": 27.7, "lng": 85.3,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPartialCancelOverHTTP(t *testing.T) {
	f := newAPI(t)
	placed := f.place(t)
	id := placed["order_id"].(string)
	items := placed["items"].([]any)
	momo := items[0].(map[string]any)["id"].(string)
	tea := items[1].(map[string]any)["id"].(string)

	w, _ := f.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", customerTok, map[string]any{"item_ids": []string{"missing"}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", otherTok, map[string]any{"item_ids": []string{momo}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := f.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", customerTok, map[string]any{"item_ids": []string{momo}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PLACED", body["status"])
	assert.EqualValues(t, 50, body["total"])

	w, body = f.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", customerTok, map[string]any{"item_ids": []string{tea}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CANCELLED", body["status"])

	w, _ = f.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", customerTok, map[string]any{"item_ids": []string{tea}})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListFilters(t *testing.T) {
	f := newAPI(t)
	a := f.place(t)["order_id"].(string)
	f.place(t)
	f.chefAdvance(t, a, "CONFIRMED")

	w, body := f.do(t, http.MethodGet, "/api/chef/orders?status=confirmed", chefTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["orders"], 1)

	w, body = f.do(t, http.MethodGet, "/api/orders?status=PLACED,CONFIRMED", customerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["orders"], 2)

	w, body = f.do(t, http.MethodGet, "/api/orders", otherTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["orders"], 0)

	w, _ = f.do(t, http.MethodGet, "/api/delivery/orders?status=BOGUS", riderTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmOnlinePayment(t *testing.T) {
	f := newAPI(t)
	body := placeBody()
	body["payment_method"] = "ESEWA"
	body["transaction_id"] = "txn-42"
	w, _ := f.do(t, http.MethodPost, "/api/orders", customerTok, body)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/payments/confirm", customerTok, map[string]any{"transaction_id": "txn-42", "amount": 250})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/payments/confirm", systemTok, map[string]any{"transaction_id": "txn-42", "amount": 200})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	for name, payload := range map[string]map[string]any{
		"unknown field":  {"transaction_id": "txn-42", "amount": 250, "status": "COMPLETE"},
		"missing amount": {"transaction_id": "txn-42"},
		"missing txn":    {"amount": 250},
	} {
		w, _ = f.do(t, http.MethodPost, "/api/payments/confirm", systemTok, payload)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}

	w, resp := f.do(t, http.MethodPost, "/api/payments/confirm", systemTok, map[string]any{"transaction_id": "txn-42", "amount": 250})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "COMPLETED", resp["payment_status"])
}

type wsFrame struct {
	Snapshot *tracking.Snapshot `json:"snapshot"`
	View     struct {
		RotationDeg float64 `json:"rotation_deg"`
		Fitted      bool    `json:"fitted"`
	} `json:"view"`
	Error string `json:"error"`
}

func TestTrackingStream(t *testing.T) {
	f := newAPI(t)
	id := f.place(t)["order_id"].(string)
	f.chefAdvance(t, id, "CONFIRMED", "PREPARING", "READY")
	w, _ := f.do(t, http.MethodPost, "/api/delivery/orders/"+id+"/advance", riderTok, map[string]any{"status": "PICKED_UP"})
	require.Equal(t, http.StatusOK, w.Code)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/orders/" + id + "/tracking/ws?access_token=" + customerTok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first wsFrame
	require.NoError(t, conn.ReadJSON(&first))
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, id, string(first.Snapshot.OrderID))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "rotate", "degrees": -90}))
	for {
		var fr wsFrame
		require.NoError(t, conn.ReadJSON(&fr))
		if fr.Snapshot == nil {
			assert.Equal(t, 270.0, fr.View.RotationDeg)
			break
		}
	}

	// Once the agent position is known the camera frames both points.
	for {
		var fr wsFrame
		require.NoError(t, conn.ReadJSON(&fr))
		if fr.Snapshot != nil && fr.Snapshot.Position != nil {
			assert.True(t, fr.View.Fitted)
			break
		}
	}
}
