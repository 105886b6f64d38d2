// README: Location handler; delivery agents push position fixes per order.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"foodtrack/internal/modules/location"
	"foodtrack/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	OrderID    string    `json:"order_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	CapturedAt time.Time `json:"captured_at"`
}

// Update stores the caller's position for an order. The agent id always
// comes from the verified token.
func (h *LocationHandler) Update(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.OrderID) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	accepted, err := h.location.Submit(c.Request.Context(), location.Update{
		AgentID:        callerActor(c).ID,
		OrderID:        types.ID(req.OrderID),
		Lat:            req.Lat,
		Lng:            req.Lng,
		AccuracyMeters: req.Accuracy,
		CapturedAt:     req.CapturedAt,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok", "accepted": accepted})
}
