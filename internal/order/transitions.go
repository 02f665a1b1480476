package order

import (
	"fmt"

	"ms-checkout/internal/models"
)

var allowedTransitions = map[models.OrderStatus]map[models.OrderStatus]struct{}{
	models.OrderPending: {
		models.OrderPaid:      {},
		models.OrderCancelled: {},
	},
	models.OrderPaid: {
		models.OrderRefunded: {},
	},
}

// CanTransition reports whether the order state machine allows from -> to.
func CanTransition(from, to models.OrderStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

func checkTransition(o *models.Order, to models.OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("order %s %s -> %s: %w", o.ID, o.Status, to, models.ErrInvalidTransition)
	}
	return nil
}
