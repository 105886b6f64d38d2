// README: Customer order handlers: place, get, history, list, cancel items.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type placeItemReq struct {
	FoodItemID string `json:"food_item_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
}

type createOrderReq struct {
	Items           []placeItemReq `json:"items"`
	Currency        string         `json:"currency"`
	Destination     types.Point    `json:"destination"`
	DeliveryAddress string         `json:"delivery_address"`
	DeliveryPhone   string         `json:"delivery_phone"`
	PaymentMethod   string         `json:"payment_method"`
	TransactionID   string         `json:"transaction_id"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := callerActor(c)
	if actor.Role != order.RoleCustomer {
		writeError(c, http.StatusForbidden, "forbidden: only customers place orders")
		return
	}
	items := make([]order.PlaceItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.PlaceItem{
			FoodItemID: types.ID(it.FoodItemID),
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
		})
	}
	o, err := h.order.Place(c.Request.Context(), order.PlaceCommand{
		CustomerID:      actor.ID,
		Items:           items,
		Currency:        req.Currency,
		Destination:     req.Destination,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryPhone:   req.DeliveryPhone,
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		TransactionID:   req.TransactionID,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toOrderResponse(o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, ok := h.load(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, toOrderResponse(o))
}

type eventResponse struct {
	From      order.Status `json:"from"`
	To        order.Status `json:"to"`
	ActorType order.Role   `json:"actor_type"`
	ActorID   *types.ID    `json:"actor_id,omitempty"`
	At        time.Time    `json:"at"`
}

func (h *OrderHandler) History(c *gin.Context) {
	o, ok := h.load(c)
	if !ok {
		return
	}
	events, err := h.order.History(c.Request.Context(), o.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			From:      e.FromStatus,
			To:        e.ToStatus,
			ActorType: e.ActorType,
			ActorID:   e.ActorID,
			At:        e.CreatedAt,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"order_id": o.ID, "events": out})
}

// List returns the caller's own orders, optionally filtered by ?status=.
func (h *OrderHandler) List(c *gin.Context) {
	statuses, err := parseStatuses(c)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	orders, err := h.order.ListByCustomer(c.Request.Context(), callerActor(c).ID, statuses...)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": toOrderList(orders)})
}

type cancelReq struct {
	ItemIDs []string `json:"item_ids"`
}

// Cancel withdraws items from an order; withdrawing the last item cancels it.
func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	ids := make([]types.ID, 0, len(req.ItemIDs))
	for _, v := range req.ItemIDs {
		ids = append(ids, types.ID(v))
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID: id,
		ItemIDs: ids,
		Actor:   callerActor(c),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderResponse(o))
}

// load fetches the :id order and enforces read access.
func (h *OrderHandler) load(c *gin.Context) (*order.Order, bool) {
	id, ok := orderID(c)
	if !ok {
		return nil, false
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeOrderError(c, err)
		return nil, false
	}
	if !canView(c, o) {
		writeError(c, http.StatusNotFound, order.ErrNotFound.Error())
		return nil, false
	}
	return o, true
}
