package entity

import (
	"encoding/json"
	"time"
)

// EventStoreRecord represents an event stored in the audit log.
type EventStoreRecord struct {
	ID         string          `json:"id"`
	StreamID   string          `json:"stream_id"`
	StreamType string          `json:"stream_type"`
	Version    int             `json:"version"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Event represents a domain event.
type Event interface {
	EventType() string
}

// OrderCreated is emitted once per persisted order line.
type OrderCreated struct {
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	ItemID    int64     `json:"item_id"`
	ItemName  string    `json:"item_name"`
	Quantity  int       `json:"quantity"`
	Remaining int       `json:"remaining"`
	CreatedAt time.Time `json:"created_at"`
}

func (e OrderCreated) EventType() string { return "OrderCreated" }
