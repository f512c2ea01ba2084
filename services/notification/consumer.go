package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"ordersaga/internal/eventbus"
	"ordersaga/internal/events"
)

const consumerGroup = "notification-service"

// Consumer records and broadcasts every saga event. Dedup is domain-level
// on (order, event type): it absorbs transport redelivery and duplicate
// publications alike. The LRU is only a fast path in front of the unique
// index, not the source of truth.
type Consumer struct {
	repo *Repository
	hub  *Hub
	seen *lru.Cache[string, struct{}]
	log  zerolog.Logger
}

func NewConsumer(repo *Repository, hub *Hub, log zerolog.Logger) (*Consumer, error) {
	cache, err := lru.New[string, struct{}](4096)
	if err != nil {
		return nil, err
	}
	return &Consumer{repo: repo, hub: hub, seen: cache, log: log}, nil
}

func (c *Consumer) HandleOrderCreated(ctx context.Context, d eventbus.Delivery) error {
	var evt events.OrderCreated
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return fmt.Errorf("decode OrderCreated: %w", err)
	}
	msg := fmt.Sprintf("order created for buyer %s, total %.2f", evt.BuyerId, evt.TotalPrice)
	return c.admit(ctx, evt.OrderId, events.TypeOrderCreated, msg)
}

func (c *Consumer) HandleStockReserved(ctx context.Context, d eventbus.Delivery) error {
	var evt events.StockReserved
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return fmt.Errorf("decode StockReserved: %w", err)
	}
	msg := fmt.Sprintf("stock reserved, total %.2f", evt.TotalPrice)
	return c.admit(ctx, evt.OrderId, events.TypeStockReserved, msg)
}

func (c *Consumer) HandleStockReservationFailed(ctx context.Context, d eventbus.Delivery) error {
	var evt events.StockReservationFailed
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return fmt.Errorf("decode StockReservationFailed: %w", err)
	}
	msg := "stock reservation failed: " + evt.Message
	return c.admit(ctx, evt.OrderId, events.TypeStockReservationFailed, msg)
}

func (c *Consumer) admit(ctx context.Context, orderID, eventType, message string) error {
	key := orderID + ":" + eventType
	if _, ok := c.seen.Get(key); ok {
		return nil
	}

	inserted, err := c.repo.Record(ctx, orderID, eventType, message)
	if err != nil {
		return err
	}
	c.seen.Add(key, struct{}{})
	if !inserted {
		// Already recorded by an earlier delivery: no rebroadcast.
		c.log.Debug().Str("order", orderID).Str("event", eventType).Msg("duplicate notification dropped")
		return nil
	}

	c.log.Info().Str("order", orderID).Str("event", eventType).Msg(message)
	c.hub.Broadcast(Notification{
		Type:      eventType,
		Source:    source,
		OrderId:   orderID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	return nil
}
