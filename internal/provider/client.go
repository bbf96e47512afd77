package provider

import (
	"context"
	"errors"
	"time"
)

// Client is the provider-agnostic interface to the number-provisioning API.
//
// Rules:
// - No provider HTTP calls outside this package.
// - Purchase is NOT idempotent at the provider: callers must issue it at most
//   once per order attempt and must never blindly retry a purchase whose
//   outcome is unknown — poll Status first.
// - Read calls (ListServices, ListCountries, Status) are idempotent and may be
//   retried by the adapter.
type Client interface {
	Name() string

	ListServices(ctx context.Context) ([]string, error)
	ListCountries(ctx context.Context, service string) ([]string, error)

	Purchase(ctx context.Context, req PurchaseRequest) (Order, error)
	Status(ctx context.Context, ref string) (OrderStatus, error)
	Cancel(ctx context.Context, ref string) error
}

// Error taxonomy. The order flow branches on these, so keep them stable.
var (
	// ErrOutOfStock: the provider has no numbers for this service/country.
	ErrOutOfStock = errors.New("provider: out of stock")

	// ErrInvalidParameters: the provider rejected the request as malformed.
	ErrInvalidParameters = errors.New("provider: invalid parameters")

	// ErrProviderUnavailable: the provider answered with a server error or an
	// idempotent call failed at the transport level. Retryable.
	ErrProviderUnavailable = errors.New("provider: unavailable")

	// ErrAmbiguousResult: a purchase call failed in a way that leaves the
	// provider-side outcome unknown (timeout, connection drop mid-flight).
	// The caller must reconcile via Status before refunding.
	ErrAmbiguousResult = errors.New("provider: ambiguous result")

	// ErrNotCancellable: the provider refused to cancel (already finished or
	// past its cancel window). Callers ignore and log this.
	ErrNotCancellable = errors.New("provider: not cancellable")

	// ErrOrderNotFound: unknown provider reference on Status/Cancel.
	ErrOrderNotFound = errors.New("provider: order not found")
)

type PurchaseRequest struct {
	Service string `json:"service"`
	Country string `json:"country"`

	// Operator is optional; empty means the provider picks ("any").
	Operator string `json:"operator,omitempty"`
}

// Order is a freshly allocated number.
type Order struct {
	// Reference is the provider's id for this activation.
	Reference string `json:"reference"`

	PhoneNumber string `json:"phone_number"`

	// ExpiresAt is the provider-reported validity window end.
	// Zero when the provider did not report one.
	ExpiresAt time.Time `json:"expires_at"`
}

// OrderStatus is the provider-side view of an activation.
type OrderStatus struct {
	Reference   string    `json:"reference"`
	State       State     `json:"state"`
	PhoneNumber string    `json:"phone_number"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// State mirrors the provider's activation states.
type State string

const (
	StatePending   State = "PENDING"  // number allocated, waiting for SMS
	StateReceived  State = "RECEIVED" // SMS arrived
	StateFinished  State = "FINISHED"
	StateCancelled State = "CANCELED"
	StateTimeout   State = "TIMEOUT"
	StateBanned    State = "BANNED"
)

// Allocated reports whether the provider holds a live number for this state.
func (s State) Allocated() bool {
	switch s {
	case StatePending, StateReceived:
		return true
	default:
		return false
	}
}
