package events

import "math"

// Money is stored as integer cents everywhere inside the services and only
// becomes a 2-decimal number on the wire.

func Cents(price float64) int64 {
	return int64(math.Round(price * 100))
}

func Price(cents int64) float64 {
	return float64(cents) / 100
}
