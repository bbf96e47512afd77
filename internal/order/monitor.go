package order

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"numbershop/internal/config"
	"numbershop/internal/events"
	"numbershop/internal/provider"
)

// locker coordinates the sweep across instances. Satisfied by utils.Mutex.
// Losing the lock never risks money: refunds are idempotent ledger postings
// and status transitions carry preconditions.
type locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Monitor periodically expires overdue active orders and reconciles orders
// whose purchase outcome was lost.
type Monitor struct {
	svc  *Service
	lock locker
	log  *slog.Logger

	interval time.Duration
	batch    int
	grace    time.Duration
}

func NewMonitor(svc *Service, lock locker, log *slog.Logger, cfg config.OrdersConfig) *Monitor {
	return &Monitor{
		svc:      svc,
		lock:     lock,
		log:      log,
		interval: cfg.SweepInterval,
		batch:    cfg.SweepBatchSize,
		grace:    cfg.ReconcileGrace,
	}
}

// Run sweeps on a ticker until ctx is cancelled. Blocking; run in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("expiry monitor started", "interval", m.interval.String(), "batch", m.batch)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("expiry monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	ok, err := m.lock.TryLock(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "sweep lock unavailable", "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := m.lock.Unlock(ctx); err != nil {
			m.log.WarnContext(ctx, "sweep unlock failed", "error", err)
		}
	}()

	m.Sweep(ctx)
}

// Sweep runs one expiry pass plus one reconciliation pass.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.svc.clock().UTC()
	m.expireDue(ctx, now)
	m.reconcile(ctx, now)
}

func (m *Monitor) expireDue(ctx context.Context, now time.Time) {
	due, err := m.svc.store.ListExpired(ctx, now, m.batch)
	if err != nil {
		m.log.ErrorContext(ctx, "list expired orders failed", "error", err)
		return
	}

	for _, o := range due {
		if o.ProviderRef != "" {
			if err := m.svc.prov.Cancel(ctx, o.ProviderRef); err != nil && !errors.Is(err, provider.ErrNotCancellable) {
				m.log.WarnContext(ctx, "provider cancel failed on expiry",
					"order_id", o.ID, "provider_ref", o.ProviderRef, "error", err)
			}
		}

		// Credit before the status flip: a failure here leaves the order
		// active and overdue, so the next sweep picks it up again and the
		// refund key replays as a no-op once the credit lands.
		if err := m.svc.refund(ctx, o, "activation window expired"); err != nil {
			continue
		}

		if err := m.svc.store.UpdateStatus(ctx, o.ID, StatusActive, StatusExpired, now); err != nil {
			if !errors.Is(err, ErrStatusConflict) {
				m.log.ErrorContext(ctx, "expire order failed", "order_id", o.ID, "error", err)
			}
			// Conflict means someone else moved it first.
			continue
		}

		o.Status = StatusExpired
		o.UpdatedAt = now
		m.svc.emit(ctx, events.TypeOrderExpired, o)
		m.log.InfoContext(ctx, "order expired and refunded",
			"order_id", o.ID, "user_id", o.UserID, "amount_minor", o.PriceMinor)
	}
}

// reconcile resolves pending orders with an unknown purchase outcome.
// With a provider reference the provider is the source of truth; without one
// the order is refunded once the grace window has safely passed.
func (m *Monitor) reconcile(ctx context.Context, now time.Time) {
	parked, err := m.svc.store.ListNeedsReconciliation(ctx, m.batch)
	if err != nil {
		m.log.ErrorContext(ctx, "list reconciliation orders failed", "error", err)
		return
	}

	for _, o := range parked {
		if o.ProviderRef == "" {
			if now.Sub(o.CreatedAt) < m.grace {
				continue
			}
			m.svc.cancelAndRefund(ctx, o, now)
			m.log.InfoContext(ctx, "unreferenced order reconciled as cancelled",
				"order_id", o.ID, "age", now.Sub(o.CreatedAt).String())
			continue
		}

		st, err := m.svc.prov.Status(ctx, o.ProviderRef)
		switch {
		case err == nil && st.State.Allocated():
			expiresAt := st.ExpiresAt
			if expiresAt.IsZero() {
				expiresAt = now.Add(m.svc.window)
			}
			if err := m.svc.store.MarkActive(ctx, o.ID, o.ProviderRef, st.PhoneNumber, expiresAt, now); err != nil {
				m.log.ErrorContext(ctx, "reconcile activate failed", "order_id", o.ID, "error", err)
				continue
			}
			o.Status = StatusActive
			o.PhoneNumber = st.PhoneNumber
			o.ExpiresAt = expiresAt
			o.UpdatedAt = now
			m.svc.emit(ctx, events.TypeOrderActive, o)
			m.log.InfoContext(ctx, "order reconciled as active", "order_id", o.ID)

		case err == nil, errors.Is(err, provider.ErrOrderNotFound):
			// Terminal provider state or unknown reference: nothing allocated.
			m.svc.cancelAndRefund(ctx, o, now)
			m.log.InfoContext(ctx, "order reconciled as cancelled", "order_id", o.ID)

		default:
			// Provider unreachable; try again next sweep.
			m.log.WarnContext(ctx, "reconcile status check failed",
				"order_id", o.ID, "provider_ref", o.ProviderRef, "error", err)
		}
	}
}
