package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"numbershop/pkg/utils"

	"github.com/google/uuid"
)

// Service is the ledger store: the single authority over balances.
//
// Money invariants:
// - No balance updates without a transaction row
// - The transaction log is append-only (immutable)
// - All money operations run inside one DB transaction with the account row
//   locked, so two concurrent purchases by the same user cannot both pass the
//   funds check against a balance neither has debited yet
// - Every posting carries an idempotency key; replays return the original row
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountSuspended  = errors.New("account suspended")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// ApplyRequest posts one signed amount to a user's ledger.
type ApplyRequest struct {
	UserID      string
	AmountMinor int64
	Kind        Kind

	// OrderID is required for purchase/refund kinds.
	OrderID string

	// ExternalRef is optional evidence (deposit proof, admin reason).
	ExternalRef string

	// IdempotencyKey is required for every posting.
	IdempotencyKey string
}

func (r ApplyRequest) validate() error {
	if r.UserID == "" || r.IdempotencyKey == "" {
		return ErrInvalidArgument
	}
	if !validKind(r.Kind) {
		return ErrInvalidArgument
	}
	switch r.Kind {
	case KindDeposit, KindRefund:
		if r.AmountMinor <= 0 {
			return ErrInvalidArgument
		}
	case KindPurchase:
		if r.AmountMinor >= 0 {
			return ErrInvalidArgument
		}
	case KindAdminAdjustment:
		if r.AmountMinor == 0 {
			return ErrInvalidArgument
		}
	}
	if (r.Kind == KindPurchase || r.Kind == KindRefund) && r.OrderID == "" {
		return ErrInvalidArgument
	}
	return nil
}

// GetBalance reads the cached balance projection. Never blocks on external calls.
func (s *Service) GetBalance(ctx context.Context, userID string) (Account, error) {
	if userID == "" {
		return Account{}, ErrInvalidArgument
	}
	return getAccount(ctx, s.db, userID)
}

// Apply atomically posts one transaction and moves the cached balance.
//
// Rules:
// - suspended accounts reject everything except admin adjustments
// - balance + amount must stay >= 0 for all kinds except admin adjustments
// - an existing (user_id, idempotency_key) row is returned as-is, with no new
//   posting; that makes compensating credits safe to re-issue
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (Transaction, Account, error) {
	if err := req.validate(); err != nil {
		return Transaction{}, Account{}, err
	}

	now := s.clock().UTC()

	var outTxn Transaction
	var outAcc Account

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureAccount(ctx, tx, req.UserID, now); err != nil {
			return err
		}
		acc, err := lockAccount(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if existing, ok, err := findTxnByIdempotency(ctx, tx, req.UserID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outTxn = existing
			outAcc = acc
			return nil
		}

		if req.Kind != KindAdminAdjustment {
			if acc.Status == AccountStatusSuspended {
				return ErrAccountSuspended
			}
			if acc.BalanceMinor+req.AmountMinor < 0 {
				return ErrInsufficientFunds
			}
		}

		entry := Transaction{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			AmountMinor:    req.AmountMinor,
			Kind:           req.Kind,
			OrderID:        req.OrderID,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := insertTxn(ctx, tx, entry); err != nil {
			return err
		}

		acc, err = applyBalanceDelta(ctx, tx, req.UserID, req.AmountMinor, now)
		if err != nil {
			return err
		}

		outTxn = entry
		outAcc = acc
		return nil
	})

	return outTxn, outAcc, err
}

// Deposit credits a user's wallet. evidenceRef points at the deposit proof
// reviewed by the presentation layer (e.g. a screenshot reference).
func (s *Service) Deposit(ctx context.Context, userID string, amountMinor int64, evidenceRef, idempotencyKey string) (Transaction, Account, error) {
	return s.Apply(ctx, ApplyRequest{
		UserID:         userID,
		AmountMinor:    amountMinor,
		Kind:           KindDeposit,
		ExternalRef:    evidenceRef,
		IdempotencyKey: idempotencyKey,
	})
}

// AdminAdjust posts a signed admin adjustment. Exempt from the non-negative
// floor and the suspension check; reason is mandatory for auditability.
func (s *Service) AdminAdjust(ctx context.Context, userID string, amountMinor int64, reason, idempotencyKey string) (Transaction, Account, error) {
	if reason == "" {
		return Transaction{}, Account{}, ErrInvalidArgument
	}
	return s.Apply(ctx, ApplyRequest{
		UserID:         userID,
		AmountMinor:    amountMinor,
		Kind:           KindAdminAdjustment,
		ExternalRef:    reason,
		IdempotencyKey: idempotencyKey,
	})
}

// SetStatus suspends or reactivates an account. No ledger effect.
func (s *Service) SetStatus(ctx context.Context, userID string, status AccountStatus) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	if status != AccountStatusActive && status != AccountStatusSuspended {
		return ErrInvalidArgument
	}
	now := s.clock().UTC()
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return setAccountStatus(ctx, tx, userID, status, now)
	})
}

// AuditResult reports whether the cached balance matches a full replay of the
// transaction log.
type AuditResult struct {
	UserID        string `json:"user_id"`
	CachedMinor   int64  `json:"cached_minor"`
	ReplayedMinor int64  `json:"replayed_minor"`
	Consistent    bool   `json:"consistent"`
}

// VerifyBalance replays the append-only log and compares it with the cached
// projection. A mismatch means the balance-equals-replay invariant was broken
// and requires manual investigation.
func (s *Service) VerifyBalance(ctx context.Context, userID string) (AuditResult, error) {
	acc, err := s.GetBalance(ctx, userID)
	if err != nil {
		return AuditResult{}, err
	}
	sum, err := sumTransactions(ctx, s.db, userID)
	if err != nil {
		return AuditResult{}, fmt.Errorf("replay transactions: %w", err)
	}
	return AuditResult{
		UserID:        userID,
		CachedMinor:   acc.BalanceMinor,
		ReplayedMinor: sum,
		Consistent:    acc.BalanceMinor == sum,
	}, nil
}

// ListTransactions returns the most recent ledger entries for a user.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return listTransactions(ctx, s.db, userID, limit)
}
