package main

import "ordersaga/internal/events"

// transition is the order saga state machine. It returns the next status
// and whether the event applies; terminal states absorb every event as an
// idempotent no-op.
func transition(current, eventType string) (next string, applied bool) {
	if current != OrderStatusSuspended {
		return current, false
	}
	switch eventType {
	case events.TypeStockReserved:
		return OrderStatusCompleted, true
	case events.TypeStockReservationFailed:
		return OrderStatusFailed, true
	default:
		return current, false
	}
}
