package order

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// store is the persistence surface the service and monitor work against.
// sqlStore is the production implementation; tests use an in-memory fake.
type store interface {
	Insert(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	GetByRequestID(ctx context.Context, userID, requestID string) (Order, bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)

	// MarkActive moves a pending order to active with the provider's
	// allocation details. Clears any reconciliation flag.
	MarkActive(ctx context.Context, id, providerRef, phone string, expiresAt, now time.Time) error

	// UpdateStatus transitions from -> to and fails with ErrStatusConflict
	// when the order is not currently in from.
	UpdateStatus(ctx context.Context, id string, from, to Status, now time.Time) error

	MarkNeedsReconciliation(ctx context.Context, id string, now time.Time) error

	ListExpired(ctx context.Context, now time.Time, limit int) ([]Order, error)
	ListNeedsReconciliation(ctx context.Context, limit int) ([]Order, error)
}

type sqlStore struct {
	db *sql.DB
}

func newSQLStore(db *sql.DB) *sqlStore {
	return &sqlStore{db: db}
}

const orderColumns = `
id, user_id, service, country, operator, price_minor, status,
provider_name, provider_ref, phone_number, needs_reconciliation,
request_id, expires_at, created_at, updated_at
`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var (
		o         Order
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Service,
		&o.Country,
		&o.Operator,
		&o.PriceMinor,
		&o.Status,
		&o.ProviderName,
		&o.ProviderRef,
		&o.PhoneNumber,
		&o.NeedsReconciliation,
		&o.RequestID,
		&expiresAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	if expiresAt.Valid {
		o.ExpiresAt = expiresAt.Time
	}
	return o, nil
}

func (s *sqlStore) Insert(ctx context.Context, o Order) error {
	const q = `
INSERT INTO orders (
  id, user_id, service, country, operator, price_minor, status,
  provider_name, provider_ref, phone_number, needs_reconciliation,
  request_id, expires_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`
	var expiresAt sql.NullTime
	if !o.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: o.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q,
		o.ID, o.UserID, o.Service, o.Country, o.Operator,
		o.PriceMinor, o.Status,
		o.ProviderName, o.ProviderRef, o.PhoneNumber, o.NeedsReconciliation,
		o.RequestID, expiresAt, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *sqlStore) GetByID(ctx context.Context, id string) (Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

func (s *sqlStore) GetByRequestID(ctx context.Context, userID, requestID string) (Order, bool, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND request_id = $2`
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, userID, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

func (s *sqlStore) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	return s.queryOrders(ctx, q, userID, limit)
}

func (s *sqlStore) MarkActive(ctx context.Context, id, providerRef, phone string, expiresAt, now time.Time) error {
	const q = `
UPDATE orders
SET status = $2,
    provider_ref = $3,
    phone_number = $4,
    expires_at = $5,
    needs_reconciliation = FALSE,
    updated_at = $6
WHERE id = $1 AND status = $7
`
	res, err := s.db.ExecContext(ctx, q, id, StatusActive, providerRef, phone, expiresAt, now, StatusPending)
	if err != nil {
		return err
	}
	return oneRowOr(res, ErrStatusConflict)
}

func (s *sqlStore) UpdateStatus(ctx context.Context, id string, from, to Status, now time.Time) error {
	const q = `
UPDATE orders
SET status = $3, needs_reconciliation = FALSE, updated_at = $4
WHERE id = $1 AND status = $2
`
	res, err := s.db.ExecContext(ctx, q, id, from, to, now)
	if err != nil {
		return err
	}
	return oneRowOr(res, ErrStatusConflict)
}

func (s *sqlStore) MarkNeedsReconciliation(ctx context.Context, id string, now time.Time) error {
	const q = `
UPDATE orders
SET needs_reconciliation = TRUE, updated_at = $2
WHERE id = $1 AND status = $3
`
	res, err := s.db.ExecContext(ctx, q, id, now, StatusPending)
	if err != nil {
		return err
	}
	return oneRowOr(res, ErrStatusConflict)
}

func (s *sqlStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE status = 'active' AND expires_at <= $1
ORDER BY expires_at
LIMIT $2`
	return s.queryOrders(ctx, q, now, limit)
}

func (s *sqlStore) ListNeedsReconciliation(ctx context.Context, limit int) ([]Order, error) {
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE status = 'pending' AND needs_reconciliation
ORDER BY created_at
LIMIT $1`
	return s.queryOrders(ctx, q, limit)
}

func (s *sqlStore) queryOrders(ctx context.Context, q string, args ...any) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func oneRowOr(res sql.Result, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return conflict
	}
	return nil
}
