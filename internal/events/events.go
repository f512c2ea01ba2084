package events

import "time"

// Event type names. Each type gets its own fanout exchange on the bus, so
// the names double as routing identity on the wire.
const (
	TypeOrderCreated           = "OrderCreated"
	TypeStockReserved          = "StockReserved"
	TypeStockReservationFailed = "StockReservationFailed"
)

// HeaderRequestID carries the correlation identifier end-to-end. It is
// observability-only: never used for dedup or ordering.
const HeaderRequestID = "X-Request-ID"

type OrderItem struct {
	ProductId string  `json:"ProductId"`
	Count     int32   `json:"Count"`
	Price     float64 `json:"Price"`
}

type OrderCreated struct {
	OrderId     string      `json:"OrderId"`
	BuyerId     string      `json:"BuyerId"`
	OrderItems  []OrderItem `json:"OrderItems"`
	TotalPrice  float64     `json:"TotalPrice"`
	CreatedDate time.Time   `json:"CreatedDate"`
}

type StockReserved struct {
	OrderId    string  `json:"OrderId"`
	BuyerId    string  `json:"BuyerId"`
	TotalPrice float64 `json:"TotalPrice"`
}

type StockReservationFailed struct {
	OrderId    string   `json:"OrderId"`
	BuyerId    string   `json:"BuyerId"`
	ProductIds []string `json:"ProductIds"`
	Message    string   `json:"Message"`
}
