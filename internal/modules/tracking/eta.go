package tracking

import (
	"fmt"
	"math"

	"foodtrack/internal/modules/order"
)

// ETABand is a coarse "min-max minutes" estimate shown when no route is known.
type ETABand struct {
	MinMinutes int `json:"min_minutes"`
	MaxMinutes int `json:"max_minutes"`
}

func (b ETABand) String() string {
	return fmt.Sprintf("%d-%d min", b.MinMinutes, b.MaxMinutes)
}

func (b ETABand) Seconds() float64 {
	return float64(b.MaxMinutes * 60)
}

// BandForStatus is the static estimate for an order that has no live session.
func BandForStatus(s order.Status) ETABand {
	switch s {
	case order.StatusPreparing, order.StatusReady:
		return ETABand{15, 20}
	case order.StatusPickedUp:
		return ETABand{10, 15}
	case order.StatusDelivered, order.StatusCancelled:
		return ETABand{}
	default:
		return ETABand{20, 25}
	}
}

// BandForDistance narrows the estimate as the remaining distance shrinks.
func BandForDistance(meters float64) ETABand {
	switch {
	case meters < 110:
		return ETABand{5, 10}
	case meters < 330:
		return ETABand{10, 15}
	default:
		return ETABand{15, 20}
	}
}

// BandForRoute rounds a route duration to a five minute band.
func BandForRoute(etaSeconds float64) ETABand {
	minutes := int(math.Ceil(etaSeconds / 60))
	lo := (minutes / 5) * 5
	return ETABand{lo, lo + 5}
}
