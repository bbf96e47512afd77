package ledger

import "time"

// Account is a user's prepaid wallet.
// Invariant: BalanceMinor is a cached projection of the transaction log and is
// never mutated outside a ledger transaction. Replaying the log must always
// reproduce it (see Service.VerifyBalance).
type Account struct {
	// UserID is assigned by the presentation layer (opaque to the engine).
	UserID string `json:"user_id" db:"user_id"`

	// BalanceMinor is the cached balance in minor units (e.g., cents).
	// Never negative outside admin adjustments.
	BalanceMinor int64 `json:"balance_minor" db:"balance_minor"`

	Status AccountStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Transaction is an immutable append-only ledger entry.
// Credits are positive, debits are negative. Once written, never updated.
type Transaction struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	AmountMinor int64 `json:"amount_minor" db:"amount_minor"`

	Kind Kind `json:"kind" db:"kind"`

	// OrderID links purchase/refund entries to the order they settle.
	OrderID string `json:"order_id,omitempty" db:"order_id"`

	// ExternalRef is optional evidence: deposit proof reference, admin reason, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey makes money-posting operations safe to retry.
	// UNIQUE (user_id, idempotency_key) is enforced by the schema.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Kind string

const (
	KindDeposit         Kind = "deposit"
	KindPurchase        Kind = "purchase"
	KindRefund          Kind = "refund"
	KindAdminAdjustment Kind = "admin_adjustment"
)

func validKind(k Kind) bool {
	switch k {
	case KindDeposit, KindPurchase, KindRefund, KindAdminAdjustment:
		return true
	default:
		return false
	}
}
