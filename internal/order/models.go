package order

import "time"

// Status is the order lifecycle state.
//
// pending   - debit posted, provider purchase in flight
// active    - number allocated, activation window running
// completed - user confirmed delivery; money is kept
// expired   - window elapsed without confirmation; debit refunded
// cancelled - provider definitively failed to allocate; debit refunded
// refunded  - admin force-refunded an active order
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether the order can never change state again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Order is one number purchase. PriceMinor is the price quoted and debited at
// placement time; catalog changes after that never touch it.
type Order struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Service  string `json:"service"`
	Country  string `json:"country"`
	Operator string `json:"operator,omitempty"`

	PriceMinor int64  `json:"price_minor"`
	Status     Status `json:"status"`

	ProviderName string `json:"provider_name"`
	ProviderRef  string `json:"provider_ref,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`

	// NeedsReconciliation marks a pending order whose provider purchase ended
	// with an unknown outcome. The sweep resolves it; it must never be
	// auto-refunded before that.
	NeedsReconciliation bool `json:"needs_reconciliation,omitempty"`

	// RequestID is the client-supplied placement idempotency token.
	RequestID string `json:"request_id,omitempty"`

	// ExpiresAt ends the activation window. Zero while pending.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
