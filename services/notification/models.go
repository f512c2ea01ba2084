package main

import "time"

// NotificationRecord is the durable audit trail, one row per distinct
// (order, event type) pair ever observed.
type NotificationRecord struct {
	ID        string
	OrderID   string
	EventType string
	Message   string
	SentUnix  int64
}

// Notification is the live broadcast payload pushed to connected
// observers. Best-effort: late subscribers only get the persisted records.
type Notification struct {
	Type      string    `json:"Type"`
	Source    string    `json:"Source"`
	OrderId   string    `json:"OrderId"`
	Message   string    `json:"Message"`
	Timestamp time.Time `json:"Timestamp"`
}

const source = "notification-service"

func nowUnix() int64 { return time.Now().Unix() }
