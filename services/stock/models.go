package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stock is one row per product. Version is a pure concurrency token: every
// successful write bumps it, and a reservation only commits if the version
// it read is still current at commit time.
type Stock struct {
	ID          string
	ProductID   string
	Count       int32
	Version     int64
	UpdatedUnix int64
}

// ErrVersionConflict marks a lost-update race: a concurrent reservation
// changed a row between read and commit. Transient — the transport
// redelivers and the engine re-runs from fresh state.
var ErrVersionConflict = errors.New("stock version conflict")

// InsufficientStockError lists the products that blocked a reservation.
// Missing products and present-but-short products land in the same list.
type InsufficientStockError struct {
	ProductIDs []string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for products: %s", strings.Join(e.ProductIDs, ", "))
}

func nowUnix() int64 { return time.Now().Unix() }
