// README: Base handler utilities (JSON helpers, caller identity, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"foodtrack/internal/http/middleware"
	"foodtrack/internal/modules/location"
	"foodtrack/internal/modules/order"
	"foodtrack/internal/modules/tracking"
	"foodtrack/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts uuid-shaped ids: alphanumerics and dashes, at most 64 chars.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// orderID reads and validates the :id path parameter.
func orderID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return "", false
	}
	return types.ID(id), true
}

func callerActor(c *gin.Context) order.Actor {
	return order.Actor{
		ID:   types.ID(middleware.CallerUID(c)),
		Role: order.Role(middleware.CallerRole(c)),
	}
}

// canView reports whether the caller may read o. Customers see only their
// own orders; staff roles see all.
func canView(c *gin.Context, o *order.Order) bool {
	actor := callerActor(c)
	if actor.Role == order.RoleCustomer {
		return o.CustomerID == actor.ID
	}
	return true
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, location.ErrInvalidSample):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, location.ErrNoSample):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrOrderNotCancellable),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrInvalidPayment),
		errors.Is(err, location.ErrOrderNotActive),
		errors.Is(err, tracking.ErrNotTrackable):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrUnknownItem),
		errors.Is(err, order.ErrPaymentMismatch):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type itemResponse struct {
	ID         types.ID `json:"id"`
	FoodItemID types.ID `json:"food_item_id"`
	Quantity   int      `json:"quantity"`
	UnitPrice  int64    `json:"unit_price"`
}

type orderResponse struct {
	ID              types.ID            `json:"order_id"`
	CustomerID      types.ID            `json:"customer_id"`
	Status          order.Status        `json:"status"`
	Items           []itemResponse      `json:"items"`
	Total           int64               `json:"total"`
	Currency        string              `json:"currency"`
	Destination     types.Point         `json:"destination"`
	DeliveryAddress string              `json:"delivery_address"`
	DeliveryPhone   string              `json:"delivery_phone"`
	PaymentMethod   order.PaymentMethod `json:"payment_method"`
	PaymentStatus   order.PaymentStatus `json:"payment_status"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]itemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemResponse{
			ID:         it.ID,
			FoodItemID: it.FoodItemID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice.Amount,
		})
	}
	return orderResponse{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		Items:           items,
		Total:           o.Total.Amount,
		Currency:        o.Total.Currency,
		Destination:     o.Destination,
		DeliveryAddress: o.DeliveryAddress,
		DeliveryPhone:   o.DeliveryPhone,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   o.PaymentStatus,
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toOrderList(orders []*order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

// parseStatuses reads a comma separated ?status= filter.
func parseStatuses(c *gin.Context) ([]order.Status, error) {
	var out []order.Status
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			if part == "" {
				continue
			}
			s, err := order.ParseStatus(part)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}
