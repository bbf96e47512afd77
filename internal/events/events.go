package events

import (
	"context"
	"time"
)

// Type enumerates the order lifecycle notifications.
type Type string

const (
	TypeOrderActive    Type = "order_active"
	TypeOrderCompleted Type = "order_completed"
	TypeOrderCancelled Type = "order_cancelled"
	TypeOrderExpired   Type = "order_expired"
)

// Event is one order lifecycle notification. Payloads are flat and stable;
// downstream consumers key on Type.
type Event struct {
	Type        Type      `json:"type"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Service     string    `json:"service"`
	Status      string    `json:"status"`
	PriceMinor  int64     `json:"price_minor"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Sink receives lifecycle events. Implementations must be non-blocking from
// the caller's point of view or wrapped in the async dispatcher; event
// delivery is best-effort and must never affect order or ledger outcomes.
type Sink interface {
	Publish(ctx context.Context, e Event)
}
