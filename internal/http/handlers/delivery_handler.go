// README: Delivery agent handlers: pickup queue, pickup/deliver, cash collection.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodtrack/internal/modules/order"
)

type DeliveryHandler struct {
	order *order.Service
}

func NewDeliveryHandler(svc *order.Service) *DeliveryHandler {
	return &DeliveryHandler{order: svc}
}

var deliveryStatuses = []order.Status{order.StatusReady, order.StatusPickedUp, order.StatusDelivered}

func (h *DeliveryHandler) List(c *gin.Context) {
	statuses, err := parseStatuses(c)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if len(statuses) == 0 {
		statuses = deliveryStatuses
	}
	orders, err := h.order.ListByStatus(c.Request.Context(), statuses...)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": toOrderList(orders)})
}

// Advance moves an order to the status named in the body. The target is
// always explicit so a retried request stays a no-op.
func (h *DeliveryHandler) Advance(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req advanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "status is required")
		return
	}
	target, err := order.ParseStatus(req.Status)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	o, err := h.order.Advance(c.Request.Context(), order.AdvanceCommand{
		OrderID: id,
		Target:  target,
		Actor:   callerActor(c),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderResponse(o))
}

// CollectPayment records cash handed over on a cash-on-delivery order.
func (h *DeliveryHandler) CollectPayment(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.MarkPaymentCollected(c.Request.Context(), order.CollectPaymentCommand{
		OrderID: id,
		Actor:   callerActor(c),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderResponse(o))
}
