package main

import (
	"context"
	"database/sql"

	"ordersaga/internal/events"
)

// reserveTx decides and commits one order's reservation inside the
// caller's transaction. All-or-nothing across the order's items:
//   - any product missing or short -> no mutation, *InsufficientStockError
//   - version changed under us     -> ErrVersionConflict (caller retries
//     via transport redelivery; nothing committed)
//   - otherwise every row is decremented with its version check
func reserveTx(ctx context.Context, tx *sql.Tx, items []events.OrderItem) error {
	// An order may repeat a product; the decision is per distinct product
	// with summed quantities.
	requested := make(map[string]int32)
	order := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := requested[it.ProductId]; !ok {
			order = append(order, it.ProductId)
		}
		requested[it.ProductId] += it.Count
	}

	stocks, err := stocksForProductsTx(ctx, tx, order)
	if err != nil {
		return err
	}

	var insufficient []string
	for _, pid := range order {
		s, ok := stocks[pid]
		if !ok || s.Count < requested[pid] {
			insufficient = append(insufficient, pid)
		}
	}
	if len(insufficient) > 0 {
		return &InsufficientStockError{ProductIDs: insufficient}
	}

	for _, pid := range order {
		if err := decrementTx(ctx, tx, stocks[pid], requested[pid]); err != nil {
			return err
		}
	}
	return nil
}
