// README: Agent position sample as submitted by delivery clients.
package location

import (
	"time"

	"foodtrack/internal/types"
)

// Sample is one position fix reported by a delivery agent for an order.
type Sample struct {
	AgentID        types.ID    `json:"agent_id"`
	OrderID        types.ID    `json:"order_id"`
	Position       types.Point `json:"position"`
	AccuracyMeters float64     `json:"accuracy_meters,omitempty"`
	CapturedAt     time.Time   `json:"captured_at"`
}
