// README: Chef handlers: kitchen queue and status advances.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodtrack/internal/modules/order"
)

type ChefHandler struct {
	order *order.Service
}

func NewChefHandler(svc *order.Service) *ChefHandler {
	return &ChefHandler{order: svc}
}

// kitchenStatuses is the default queue shown to chefs.
var kitchenStatuses = []order.Status{order.StatusPlaced, order.StatusConfirmed, order.StatusPreparing, order.StatusReady}

func (h *ChefHandler) List(c *gin.Context) {
	statuses, err := parseStatuses(c)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if len(statuses) == 0 {
		statuses = kitchenStatuses
	}
	orders, err := h.order.ListByStatus(c.Request.Context(), statuses...)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": toOrderList(orders)})
}

type advanceReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *ChefHandler) Advance(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req advanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
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
