package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ordersaga/internal/eventbus"
	"ordersaga/internal/events"
	"ordersaga/internal/inbox"
	"ordersaga/internal/outbox"
)

const consumerGroup = "stock-service"

// ReservationConsumer runs the reservation engine for each OrderCreated.
// The availability check, the decrement, the staged outcome event and the
// inbox mark all share one transaction, so a crash or a version conflict
// leaves no partial state behind.
type ReservationConsumer struct {
	repo  *Repository
	chaos *Chaos
	log   zerolog.Logger
}

func NewReservationConsumer(repo *Repository, chaos *Chaos, log zerolog.Logger) *ReservationConsumer {
	return &ReservationConsumer{repo: repo, chaos: chaos, log: log}
}

func (c *ReservationConsumer) HandleOrderCreated(ctx context.Context, d eventbus.Delivery) error {
	if err := c.chaos.Apply(ctx); err != nil {
		return err
	}

	var evt events.OrderCreated
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return fmt.Errorf("decode OrderCreated: %w", err)
	}

	return c.repo.WithTx(ctx, func(tx *sql.Tx) error {
		key := evt.OrderId + ":" + events.TypeOrderCreated
		seen, err := inbox.Seen(ctx, tx, consumerGroup, key)
		if err != nil {
			return err
		}
		if seen {
			c.log.Debug().Str("order", evt.OrderId).Msg("order already reserved, skipping")
			return nil
		}

		err = reserveTx(ctx, tx, evt.OrderItems)

		var short *InsufficientStockError
		switch {
		case errors.As(err, &short):
			// Business rejection, not an error: the saga gets a terminal
			// failure outcome and no stock row changes.
			c.log.Info().Str("order", evt.OrderId).Strs("products", short.ProductIDs).Msg("reservation rejected")
			failed := events.StockReservationFailed{
				OrderId:    evt.OrderId,
				BuyerId:    evt.BuyerId,
				ProductIds: short.ProductIDs,
				Message:    "insufficient stock",
			}
			if err := outbox.Append(ctx, tx, events.TypeStockReservationFailed, failed, d.CorrelationID); err != nil {
				return err
			}
		case errors.Is(err, ErrVersionConflict):
			// Lost-update race. Propagate so the transport redelivers and
			// the engine re-runs against fresh rows.
			c.log.Warn().Str("order", evt.OrderId).Int("attempt", d.Attempt).Msg("version conflict, retrying via redelivery")
			return err
		case err != nil:
			return err
		default:
			c.log.Info().Str("order", evt.OrderId).Msg("stock reserved")
			reserved := events.StockReserved{
				OrderId:    evt.OrderId,
				BuyerId:    evt.BuyerId,
				TotalPrice: evt.TotalPrice,
			}
			if err := outbox.Append(ctx, tx, events.TypeStockReserved, reserved, d.CorrelationID); err != nil {
				return err
			}
		}

		return inbox.Mark(ctx, tx, consumerGroup, key)
	})
}
