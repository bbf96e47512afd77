package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist (see migrations/):
// - accounts
// - transactions (immutable append-only, UNIQUE (user_id, idempotency_key))

func ensureAccount(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	// Accounts are provisioned lazily on first money operation; the user id is
	// externally assigned, so there is nothing else to create.
	const q = `
INSERT INTO accounts (user_id, balance_minor, status, created_at, updated_at)
VALUES ($1, 0, 'active', $2, $2)
ON CONFLICT (user_id) DO NOTHING
`
	_, err := tx.ExecContext(ctx, q, userID, now)
	return err
}

func lockAccount(ctx context.Context, tx *sql.Tx, userID string) (Account, error) {
	// Lock the account row to serialize concurrent money operations per user.
	// Operations on different users do not contend.
	const q = `
SELECT user_id, balance_minor, status, created_at, updated_at
FROM accounts
WHERE user_id = $1
FOR UPDATE
`
	var a Account
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&a.UserID,
		&a.BalanceMinor,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func getAccount(ctx context.Context, db *sql.DB, userID string) (Account, error) {
	const q = `
SELECT user_id, balance_minor, status, created_at, updated_at
FROM accounts
WHERE user_id = $1
`
	var a Account
	if err := db.QueryRowContext(ctx, q, userID).Scan(
		&a.UserID,
		&a.BalanceMinor,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func findTxnByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (Transaction, bool, error) {
	const q = `
SELECT id, user_id, amount_minor, kind, COALESCE(order_id, ''), external_ref, idempotency_key, created_at
FROM transactions
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var t Transaction
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&t.ID,
		&t.UserID,
		&t.AmountMinor,
		&t.Kind,
		&t.OrderID,
		&t.ExternalRef,
		&t.IdempotencyKey,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return t, true, nil
}

func insertTxn(ctx context.Context, tx *sql.Tx, t Transaction) error {
	const q = `
INSERT INTO transactions (id, user_id, amount_minor, kind, order_id, external_ref, idempotency_key, created_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8)
`
	_, err := tx.ExecContext(ctx, q,
		t.ID,
		t.UserID,
		t.AmountMinor,
		t.Kind,
		t.OrderID,
		t.ExternalRef,
		t.IdempotencyKey,
		t.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID string, deltaMinor int64, now time.Time) (Account, error) {
	// The account row is already locked; this only moves the cached projection.
	const q = `
UPDATE accounts
SET balance_minor = balance_minor + $2, updated_at = $3
WHERE user_id = $1
RETURNING user_id, balance_minor, status, created_at, updated_at
`
	var a Account
	if err := tx.QueryRowContext(ctx, q, userID, deltaMinor, now).Scan(
		&a.UserID,
		&a.BalanceMinor,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return Account{}, err
	}
	return a, nil
}

func setAccountStatus(ctx context.Context, tx *sql.Tx, userID string, status AccountStatus, now time.Time) error {
	const q = `
UPDATE accounts SET status = $2, updated_at = $3 WHERE user_id = $1
`
	res, err := tx.ExecContext(ctx, q, userID, status, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func sumTransactions(ctx context.Context, db *sql.DB, userID string) (int64, error) {
	const q = `
SELECT COALESCE(SUM(amount_minor), 0) FROM transactions WHERE user_id = $1
`
	var sum int64
	if err := db.QueryRowContext(ctx, q, userID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func listTransactions(ctx context.Context, db *sql.DB, userID string, limit int) ([]Transaction, error) {
	const q = `
SELECT id, user_id, amount_minor, kind, COALESCE(order_id, ''), external_ref, idempotency_key, created_at
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`
	rows, err := db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.AmountMinor,
			&t.Kind,
			&t.OrderID,
			&t.ExternalRef,
			&t.IdempotencyKey,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
