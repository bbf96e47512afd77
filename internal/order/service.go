package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"numbershop/internal/catalog"
	"numbershop/internal/config"
	"numbershop/internal/events"
	"numbershop/internal/ledger"
	"numbershop/internal/provider"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotOrderOwner  = errors.New("order belongs to another user")
	ErrStatusConflict = errors.New("order status conflict")
	ErrOrderNotActive = errors.New("order is not active")
	ErrInvalidRequest = errors.New("invalid order request")

	// ErrPurchasePending: the provider outcome is unknown; the order is parked
	// for reconciliation and the debit stays in place until it resolves.
	ErrPurchasePending = errors.New("purchase outcome pending reconciliation")
)

// wallet is the slice of the ledger the order flow needs.
type wallet interface {
	Apply(ctx context.Context, req ledger.ApplyRequest) (ledger.Transaction, ledger.Account, error)
}

// pricer quotes selling prices from the catalog.
type pricer interface {
	Resolve(ctx context.Context, name string) (catalog.Entry, int64, error)
}

// Service owns the order lifecycle. The money choreography is fixed:
// debit first, then purchase, and every path out of a failed purchase either
// refunds through an idempotent ledger credit or parks the order for
// reconciliation. Refunds reuse the key "refund:<order_id>" everywhere, so no
// combination of sweep, admin action and retry can credit twice.
type Service struct {
	store  store
	wallet wallet
	prices pricer
	prov   provider.Client
	sink   events.Sink
	log    *slog.Logger

	window time.Duration
	clock  func() time.Time
}

func NewService(
	db *sql.DB,
	wallet wallet,
	prices pricer,
	prov provider.Client,
	sink events.Sink,
	log *slog.Logger,
	cfg config.OrdersConfig,
) *Service {
	return &Service{
		store:  newSQLStore(db),
		wallet: wallet,
		prices: prices,
		prov:   prov,
		sink:   sink,
		log:    log,
		window: cfg.DefaultActivationWindow,
		clock:  time.Now,
	}
}

// PlaceRequest places one number order.
type PlaceRequest struct {
	UserID   string
	Service  string
	Country  string
	Operator string

	// RequestID deduplicates client retries of the placement call itself.
	// Optional; when present, a repeat returns the original order.
	RequestID string
}

func (r PlaceRequest) validate() error {
	if r.UserID == "" || r.Service == "" || r.Country == "" {
		return ErrInvalidRequest
	}
	return nil
}

func purchaseKey(orderID string) string { return "purchase:" + orderID }
func refundKey(orderID string) string   { return "refund:" + orderID }

// Place quotes, debits and purchases. On success the returned order is
// active with a phone number attached.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (Order, error) {
	if err := req.validate(); err != nil {
		return Order{}, err
	}

	if req.RequestID != "" {
		if existing, ok, err := s.store.GetByRequestID(ctx, req.UserID, req.RequestID); err != nil {
			return Order{}, err
		} else if ok {
			return existing, nil
		}
	}

	_, price, err := s.prices.Resolve(ctx, req.Service)
	if err != nil {
		return Order{}, err
	}

	now := s.clock().UTC()
	o := Order{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Service:      req.Service,
		Country:      req.Country,
		Operator:     req.Operator,
		PriceMinor:   price,
		Status:       StatusPending,
		ProviderName: s.prov.Name(),
		RequestID:    req.RequestID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Debit before anything provider-facing. The funds check and the posting
	// are one atomic ledger operation.
	if _, _, err := s.wallet.Apply(ctx, ledger.ApplyRequest{
		UserID:         req.UserID,
		AmountMinor:    -price,
		Kind:           ledger.KindPurchase,
		OrderID:        o.ID,
		IdempotencyKey: purchaseKey(o.ID),
	}); err != nil {
		return Order{}, err
	}

	if err := s.store.Insert(ctx, o); err != nil {
		// The debit exists but the order row does not. Compensate immediately;
		// with no row to park there is no sweep retry, so a failed credit here
		// is already logged loudly by refund and resolved via the ledger audit.
		_ = s.refund(context.WithoutCancel(ctx), o, "order insert failed")
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	return s.executePurchase(ctx, o)
}

// executePurchase runs the provider call for a pending, already-debited order.
// Detached from the caller's context: once money moved, caller disconnects
// must not orphan the order mid-flight.
func (s *Service) executePurchase(ctx context.Context, o Order) (Order, error) {
	callCtx := context.WithoutCancel(ctx)

	po, err := s.prov.Purchase(callCtx, provider.PurchaseRequest{
		Service:  o.Service,
		Country:  o.Country,
		Operator: o.Operator,
	})
	now := s.clock().UTC()

	switch {
	case err == nil:
		expiresAt := po.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = now.Add(s.window)
		}
		if err := s.store.MarkActive(callCtx, o.ID, po.Reference, po.PhoneNumber, expiresAt, now); err != nil {
			// Row vanished or raced; the number is allocated and paid for, so
			// surface loudly rather than refunding.
			s.log.ErrorContext(callCtx, "activate order failed after purchase",
				"order_id", o.ID, "provider_ref", po.Reference, "error", err)
			return Order{}, fmt.Errorf("activate order %s: %w", o.ID, err)
		}
		o.Status = StatusActive
		o.ProviderRef = po.Reference
		o.PhoneNumber = po.PhoneNumber
		o.ExpiresAt = expiresAt
		o.UpdatedAt = now
		s.emit(callCtx, events.TypeOrderActive, o)
		return o, nil

	case errors.Is(err, provider.ErrAmbiguousResult):
		// Unknown outcome: never refund here. Park for the sweep.
		if markErr := s.store.MarkNeedsReconciliation(callCtx, o.ID, now); markErr != nil {
			s.log.ErrorContext(callCtx, "mark reconciliation failed", "order_id", o.ID, "error", markErr)
		}
		s.log.WarnContext(callCtx, "purchase outcome unknown, order parked",
			"order_id", o.ID, "error", err)
		return Order{}, fmt.Errorf("%w: %v", ErrPurchasePending, err)

	default:
		// Definite failure: the provider answered and did not allocate.
		s.cancelAndRefund(callCtx, o, now)
		return Order{}, err
	}
}

// cancelAndRefund finishes a pending order whose purchase definitively failed.
//
// The credit is posted before the status flip: the refund key replays as a
// no-op, so a crash between the two statements leaves a pending order the
// sweep will finish, whereas the reverse order would strand the debit on a
// terminal order nothing revisits.
func (s *Service) cancelAndRefund(ctx context.Context, o Order, now time.Time) {
	if err := s.refund(ctx, o, "purchase failed"); err != nil {
		// Keep the order pending and parked so the sweep retries the credit.
		if markErr := s.store.MarkNeedsReconciliation(ctx, o.ID, now); markErr != nil && !errors.Is(markErr, ErrStatusConflict) {
			s.log.ErrorContext(ctx, "mark reconciliation failed", "order_id", o.ID, "error", markErr)
		}
		return
	}
	if err := s.store.UpdateStatus(ctx, o.ID, StatusPending, StatusCancelled, now); err != nil {
		if !errors.Is(err, ErrStatusConflict) {
			s.log.ErrorContext(ctx, "cancel order failed", "order_id", o.ID, "error", err)
		}
		return
	}
	o.Status = StatusCancelled
	o.UpdatedAt = now
	s.emit(ctx, events.TypeOrderCancelled, o)
}

// refund posts the compensating credit. Safe to call repeatedly; callers must
// not move the order to a terminal status until it has succeeded.
func (s *Service) refund(ctx context.Context, o Order, reason string) error {
	if _, _, err := s.wallet.Apply(ctx, ledger.ApplyRequest{
		UserID:         o.UserID,
		AmountMinor:    o.PriceMinor,
		Kind:           ledger.KindRefund,
		OrderID:        o.ID,
		ExternalRef:    reason,
		IdempotencyKey: refundKey(o.ID),
	}); err != nil {
		s.log.ErrorContext(ctx, "refund posting failed",
			"order_id", o.ID, "user_id", o.UserID, "amount_minor", o.PriceMinor, "error", err)
		return err
	}
	return nil
}

// Confirm marks an active order as completed. Only the owner may confirm;
// the debit becomes final.
func (s *Service) Confirm(ctx context.Context, userID, orderID string) (Order, error) {
	o, err := s.getOwned(ctx, userID, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusActive {
		return Order{}, ErrOrderNotActive
	}

	now := s.clock().UTC()
	if err := s.store.UpdateStatus(ctx, o.ID, StatusActive, StatusCompleted, now); err != nil {
		return Order{}, err
	}
	o.Status = StatusCompleted
	o.UpdatedAt = now
	s.emit(ctx, events.TypeOrderCompleted, o)
	return o, nil
}

// Get returns an order without ownership checks (admin surface).
func (s *Service) Get(ctx context.Context, orderID string) (Order, error) {
	if orderID == "" {
		return Order{}, ErrOrderNotFound
	}
	return s.store.GetByID(ctx, orderID)
}

// GetForUser returns an order, enforcing ownership.
func (s *Service) GetForUser(ctx context.Context, userID, orderID string) (Order, error) {
	return s.getOwned(ctx, userID, orderID)
}

// ListForUser returns the user's most recent orders.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// AdminRefund force-refunds an active order. The provider cancel is
// best-effort; the ledger credit is the operation that matters.
func (s *Service) AdminRefund(ctx context.Context, orderID, reason string) (Order, error) {
	if reason == "" {
		return Order{}, ErrInvalidRequest
	}
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusActive {
		return Order{}, ErrOrderNotActive
	}

	now := s.clock().UTC()

	if o.ProviderRef != "" {
		if err := s.prov.Cancel(ctx, o.ProviderRef); err != nil && !errors.Is(err, provider.ErrNotCancellable) {
			s.log.WarnContext(ctx, "provider cancel failed during admin refund",
				"order_id", o.ID, "provider_ref", o.ProviderRef, "error", err)
		}
	}

	// Credit before the status flip. A failed credit leaves the order active
	// and the admin retries; the refund key makes the retry exactly-once.
	if err := s.refund(ctx, o, "admin refund: "+reason); err != nil {
		return Order{}, fmt.Errorf("refund order %s: %w", o.ID, err)
	}
	if err := s.store.UpdateStatus(ctx, o.ID, StatusActive, StatusRefunded, now); err != nil {
		return Order{}, err
	}
	o.Status = StatusRefunded
	o.UpdatedAt = now
	s.emit(ctx, events.TypeOrderCancelled, o)
	return o, nil
}

func (s *Service) getOwned(ctx context.Context, userID, orderID string) (Order, error) {
	if userID == "" || orderID == "" {
		return Order{}, ErrOrderNotFound
	}
	o, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrNotOrderOwner
	}
	return o, nil
}

func (s *Service) emit(ctx context.Context, t events.Type, o Order) {
	s.sink.Publish(ctx, events.Event{
		Type:        t,
		OrderID:     o.ID,
		UserID:      o.UserID,
		Service:     o.Service,
		Status:      string(o.Status),
		PriceMinor:  o.PriceMinor,
		PhoneNumber: o.PhoneNumber,
		OccurredAt:  o.UpdatedAt,
	})
}
