package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Service resolves selling prices for the order flow and carries the admin
// edit operations. Pure calculation + repository lookups; no provider calls.
type Service struct {
	db    *sql.DB
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrServiceDisabled = errors.New("service disabled")
	ErrInvalidEntry    = errors.New("invalid catalog entry")
)

// Resolve returns the entry and its selling price, failing on unknown or
// disabled services. The order flow must not quote prices any other way.
func (s *Service) Resolve(ctx context.Context, name string) (Entry, int64, error) {
	if name == "" {
		return Entry{}, 0, ErrServiceNotFound
	}
	e, err := getEntry(ctx, s.db, name)
	if err != nil {
		return Entry{}, 0, err
	}
	if !e.Enabled {
		return Entry{}, 0, ErrServiceDisabled
	}
	return e, e.PriceMinor(), nil
}

// PricedEntry is the catalog view exposed to users: name plus final price.
type PricedEntry struct {
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
}

// ListEnabled returns the sellable catalog with computed prices.
func (s *Service) ListEnabled(ctx context.Context) ([]PricedEntry, error) {
	entries, err := listEntries(ctx, s.db, true)
	if err != nil {
		return nil, err
	}
	out := make([]PricedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, PricedEntry{Name: e.Name, PriceMinor: e.PriceMinor()})
	}
	return out, nil
}

// ListAll returns every entry including disabled ones (admin view).
func (s *Service) ListAll(ctx context.Context) ([]Entry, error) {
	return listEntries(ctx, s.db, false)
}

// Upsert creates or replaces a catalog entry (admin operation).
func (s *Service) Upsert(ctx context.Context, e Entry) (Entry, error) {
	if e.Name == "" || e.BasePriceMinor <= 0 || e.MarkupBps < 0 {
		return Entry{}, ErrInvalidEntry
	}
	return upsertEntry(ctx, s.db, e, s.clock().UTC())
}

// SetEnabled toggles availability without touching pricing.
func (s *Service) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if name == "" {
		return ErrServiceNotFound
	}
	return setEnabled(ctx, s.db, name, enabled, s.clock().UTC())
}
