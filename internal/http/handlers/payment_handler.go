// README: Payment provider callback for online payments.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"foodtrack/internal/modules/order"
)

type PaymentHandler struct {
	order *order.Service
}

func NewPaymentHandler(svc *order.Service) *PaymentHandler {
	return &PaymentHandler{order: svc}
}

type confirmPaymentReq struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
}

// Confirm takes the provider callback. Unknown fields are rejected so a
// changed provider payload fails loudly instead of confirming on defaults.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	var req confirmPaymentReq
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payment payload")
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.order.ConfirmPayment(c.Request.Context(), order.ConfirmPaymentCommand{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"order_id":       o.ID,
		"payment_status": o.PaymentStatus,
		"total":          o.Total.Amount,
	})
}
