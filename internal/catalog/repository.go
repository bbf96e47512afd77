package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func getEntry(ctx context.Context, db *sql.DB, name string) (Entry, error) {
	const q = `
SELECT name, base_price_minor, markup_bps, enabled, updated_at
FROM services
WHERE name = $1
`
	var e Entry
	if err := db.QueryRowContext(ctx, q, name).Scan(
		&e.Name,
		&e.BasePriceMinor,
		&e.MarkupBps,
		&e.Enabled,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrServiceNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func listEntries(ctx context.Context, db *sql.DB, enabledOnly bool) ([]Entry, error) {
	q := `
SELECT name, base_price_minor, markup_bps, enabled, updated_at
FROM services
ORDER BY name
`
	if enabledOnly {
		q = `
SELECT name, base_price_minor, markup_bps, enabled, updated_at
FROM services
WHERE enabled
ORDER BY name
`
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.BasePriceMinor, &e.MarkupBps, &e.Enabled, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func upsertEntry(ctx context.Context, db *sql.DB, e Entry, now time.Time) (Entry, error) {
	const q = `
INSERT INTO services (name, base_price_minor, markup_bps, enabled, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (name)
DO UPDATE SET base_price_minor = EXCLUDED.base_price_minor,
              markup_bps = EXCLUDED.markup_bps,
              enabled = EXCLUDED.enabled,
              updated_at = EXCLUDED.updated_at
RETURNING name, base_price_minor, markup_bps, enabled, updated_at
`
	var out Entry
	if err := db.QueryRowContext(ctx, q, e.Name, e.BasePriceMinor, e.MarkupBps, e.Enabled, now).Scan(
		&out.Name,
		&out.BasePriceMinor,
		&out.MarkupBps,
		&out.Enabled,
		&out.UpdatedAt,
	); err != nil {
		return Entry{}, err
	}
	return out, nil
}

func setEnabled(ctx context.Context, db *sql.DB, name string, enabled bool, now time.Time) error {
	const q = `
UPDATE services SET enabled = $2, updated_at = $3 WHERE name = $1
`
	res, err := db.ExecContext(ctx, q, name, enabled, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}
