package main

import "time"

// Order status lifecycle: suspended until the stock exchange resolves,
// then exactly one of completed/failed, both terminal.
const (
	OrderStatusSuspended = "suspended"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
)

type Order struct {
	ID          string
	BuyerID     string
	Status      string
	FailMessage string
	Address     Address
	TotalCents  int64
	CreatedUnix int64
	UpdatedUnix int64
	Items       []OrderItem
}

type Address struct {
	Line     string
	Province string
	District string
}

type OrderItem struct {
	ProductID  string
	Count      int32
	PriceCents int64
}

func nowUnix() int64 { return time.Now().Unix() }
