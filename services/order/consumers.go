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
)

const consumerGroup = "order-service"

// SagaConsumers advances order status from the stock-reservation outcome.
// Dedup key is the natural (orderID, eventType) pair so redeliveries and
// duplicate publications both short-circuit.
type SagaConsumers struct {
	repo *Repository
	log  zerolog.Logger
}

func NewSagaConsumers(repo *Repository, log zerolog.Logger) *SagaConsumers {
	return &SagaConsumers{repo: repo, log: log}
}

func (c *SagaConsumers) HandleStockReserved(ctx context.Context, d eventbus.Delivery) error {
	var evt events.StockReserved
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return fmt.Errorf("decode StockReserved: %w", err)
	}
	return c.applyOutcome(ctx, evt.OrderId, events.TypeStockReserved, "")
}

func (c *SagaConsumers) HandleStockReservationFailed(ctx context.Context, d eventbus.Delivery) error {
	var evt events.StockReservationFailed
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return fmt.Errorf("decode StockReservationFailed: %w", err)
	}
	return c.applyOutcome(ctx, evt.OrderId, events.TypeStockReservationFailed, evt.Message)
}

func (c *SagaConsumers) applyOutcome(ctx context.Context, orderID, eventType, failMessage string) error {
	return c.repo.WithTx(ctx, func(tx *sql.Tx) error {
		key := orderID + ":" + eventType
		seen, err := inbox.Seen(ctx, tx, consumerGroup, key)
		if err != nil {
			return err
		}
		if seen {
			c.log.Debug().Str("order", orderID).Str("event", eventType).Msg("duplicate outcome, skipping")
			return nil
		}

		o, err := getOrderTx(ctx, tx, orderID)
		if errors.Is(err, ErrOrderNotFound) {
			// The order may legitimately not exist here; redelivering
			// forever for a permanently-missing row helps nobody. Ack.
			c.log.Warn().Str("order", orderID).Str("event", eventType).Msg("outcome for unknown order, ignoring")
			return nil
		}
		if err != nil {
			return err
		}

		next, applied := transition(o.Status, eventType)
		if !applied {
			c.log.Debug().Str("order", orderID).Str("status", o.Status).Msg("terminal order, outcome ignored")
			return nil
		}

		if err := updateStatusTx(ctx, tx, orderID, next, failMessage); err != nil {
			return err
		}
		if err := inbox.Mark(ctx, tx, consumerGroup, key); err != nil {
			return err
		}
		c.log.Info().Str("order", orderID).Str("status", next).Msg("order saga advanced")
		return nil
	})
}
