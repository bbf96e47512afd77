package order

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"numbershop/internal/events"
	"numbershop/internal/ledger"
	"numbershop/internal/provider"
)

type fakeLock struct {
	held    bool
	locks   int
	unlocks int
}

func (f *fakeLock) TryLock(context.Context) (bool, error) {
	f.locks++
	return !f.held, nil
}

func (f *fakeLock) Unlock(context.Context) error {
	f.unlocks++
	return nil
}

func newMonitorHarness(balance int64) (*harness, *Monitor) {
	h := newHarness(balance)
	m := &Monitor{
		svc:      h.svc,
		lock:     &fakeLock{},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval: time.Second,
		batch:    100,
		grace:    time.Minute,
	}
	return h, m
}

func TestSweep_ExpiresAndRefundsOverdueOrders(t *testing.T) {
	h, m := newMonitorHarness(2000)

	o, err := h.svc.Place(context.Background(), placeReq())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := h.wallet.currentBalance(); got != 750 {
		t.Fatalf("expected debit, balance %d", got)
	}

	// Move the clock past the activation window.
	h.svc.clock = func() time.Time { return o.ExpiresAt.Add(time.Second) }

	m.Sweep(context.Background())

	got := h.store.get(t, o.ID)
	if got.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	if bal := h.wallet.currentBalance(); bal != 2000 {
		t.Fatalf("expected refund, balance %d", bal)
	}
	if len(h.prov.cancelled) != 1 {
		t.Fatalf("expected best-effort provider cancel, got %v", h.prov.cancelled)
	}

	var sawExpired bool
	for _, typ := range h.sink.types() {
		if typ == events.TypeOrderExpired {
			sawExpired = true
		}
	}
	if !sawExpired {
		t.Fatal("expected order_expired event")
	}
}

func TestSweep_RepeatRunsRefundOnce(t *testing.T) {
	h, m := newMonitorHarness(2000)

	o, err := h.svc.Place(context.Background(), placeReq())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	h.svc.clock = func() time.Time { return o.ExpiresAt.Add(time.Second) }

	m.Sweep(context.Background())
	m.Sweep(context.Background())

	if bal := h.wallet.currentBalance(); bal != 2000 {
		t.Fatalf("double sweep must not double refund, balance %d", bal)
	}
	// debit + one refund
	if n := h.wallet.postingCount(); n != 2 {
		t.Fatalf("expected 2 postings, got %d", n)
	}
}

func TestSweep_FailedRefundLeavesOrderActiveForRetry(t *testing.T) {
	h, m := newMonitorHarness(2000)

	o, err := h.svc.Place(context.Background(), placeReq())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	h.svc.clock = func() time.Time { return o.ExpiresAt.Add(time.Second) }

	h.wallet.refundErr = errors.New("connection reset")
	m.Sweep(context.Background())

	// No credit, no terminal flip: the order stays overdue-active so the
	// next sweep retries it.
	if got := h.store.get(t, o.ID); got.Status != StatusActive {
		t.Fatalf("order must stay active until the credit lands, got %s", got.Status)
	}
	if bal := h.wallet.currentBalance(); bal != 750 {
		t.Fatalf("unexpected balance %d", bal)
	}

	h.wallet.refundErr = nil
	m.Sweep(context.Background())

	if got := h.store.get(t, o.ID); got.Status != StatusExpired {
		t.Fatalf("expected expired after retry, got %s", got.Status)
	}
	if bal := h.wallet.currentBalance(); bal != 2000 {
		t.Fatalf("expected refund, balance %d", bal)
	}
	// debit + exactly one refund
	if n := h.wallet.postingCount(); n != 2 {
		t.Fatalf("expected 2 postings, got %d", n)
	}
}

func TestReconcile_FailedRefundStaysParkedForRetry(t *testing.T) {
	h, m := newMonitorHarness(2000)
	h.prov.purchaseErr = provider.ErrAmbiguousResult

	if _, err := h.svc.Place(context.Background(), placeReq()); !errors.Is(err, ErrPurchasePending) {
		t.Fatalf("expected ErrPurchasePending, got %v", err)
	}

	h.svc.clock = func() time.Time { return time.Unix(1700000000, 0).UTC().Add(2 * time.Minute) }

	h.wallet.refundErr = errors.New("connection reset")
	m.Sweep(context.Background())

	for _, o := range h.store.orders {
		if o.Status != StatusPending || !o.NeedsReconciliation {
			t.Fatalf("order must stay parked until the credit lands, got %+v", o)
		}
	}
	if bal := h.wallet.currentBalance(); bal != 750 {
		t.Fatalf("unexpected balance %d", bal)
	}

	h.wallet.refundErr = nil
	m.Sweep(context.Background())

	for _, o := range h.store.orders {
		if o.Status != StatusCancelled {
			t.Fatalf("expected cancelled after retry, got %s", o.Status)
		}
	}
	if bal := h.wallet.currentBalance(); bal != 2000 {
		t.Fatalf("expected refund after retry, balance %d", bal)
	}
}

func TestSweep_NotCancellableStillExpires(t *testing.T) {
	h, m := newMonitorHarness(2000)
	h.prov.cancelErr = provider.ErrNotCancellable

	o, err := h.svc.Place(context.Background(), placeReq())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	h.svc.clock = func() time.Time { return o.ExpiresAt.Add(time.Second) }

	m.Sweep(context.Background())

	if got := h.store.get(t, o.ID); got.Status != StatusExpired {
		t.Fatalf("expected expired despite cancel refusal, got %s", got.Status)
	}
	if bal := h.wallet.currentBalance(); bal != 2000 {
		t.Fatalf("expected refund, balance %d", bal)
	}
}

func TestReconcile_NoRefRefundsAfterGrace(t *testing.T) {
	h, m := newMonitorHarness(2000)
	h.prov.purchaseErr = provider.ErrAmbiguousResult

	if _, err := h.svc.Place(context.Background(), placeReq()); !errors.Is(err, ErrPurchasePending) {
		t.Fatalf("expected ErrPurchasePending, got %v", err)
	}

	// Inside the grace window nothing happens.
	m.Sweep(context.Background())
	if bal := h.wallet.currentBalance(); bal != 750 {
		t.Fatalf("refund must wait for grace, balance %d", bal)
	}

	h.svc.clock = func() time.Time { return time.Unix(1700000000, 0).UTC().Add(2 * time.Minute) }
	m.Sweep(context.Background())

	if bal := h.wallet.currentBalance(); bal != 2000 {
		t.Fatalf("expected refund after grace, balance %d", bal)
	}
	for _, o := range h.store.orders {
		if o.Status != StatusCancelled {
			t.Fatalf("expected cancelled, got %s", o.Status)
		}
	}
}

func TestReconcile_WithRefActivatesAllocatedOrder(t *testing.T) {
	h, m := newMonitorHarness(2000)

	// Parked order that does carry a provider reference.
	now := time.Unix(1700000000, 0).UTC()
	o := Order{
		ID: "ord-1", UserID: "u-1", Service: "telegram", Country: "russia",
		PriceMinor: 1250, Status: StatusPending, ProviderRef: "prov-9",
		NeedsReconciliation: true, CreatedAt: now, UpdatedAt: now,
	}
	h.store.Insert(context.Background(), o)
	h.wallet.Apply(context.Background(), debitFor(o))

	h.prov.statusResult = provider.OrderStatus{
		Reference: "prov-9", State: provider.StatePending, PhoneNumber: "+79009999999",
	}

	m.Sweep(context.Background())

	got := h.store.get(t, o.ID)
	if got.Status != StatusActive {
		t.Fatalf("expected active after reconciliation, got %s", got.Status)
	}
	if got.PhoneNumber != "+79009999999" {
		t.Fatalf("expected phone from provider, got %q", got.PhoneNumber)
	}
	if got.ExpiresAt.IsZero() {
		t.Fatal("expected fallback activation window")
	}
	if bal := h.wallet.currentBalance(); bal != 750 {
		t.Fatalf("allocated order must keep the debit, balance %d", bal)
	}
}

func TestReconcile_WithRefTerminalStateRefunds(t *testing.T) {
	h, m := newMonitorHarness(2000)

	now := time.Unix(1700000000, 0).UTC()
	o := Order{
		ID: "ord-1", UserID: "u-1", Service: "telegram", Country: "russia",
		PriceMinor: 1250, Status: StatusPending, ProviderRef: "prov-9",
		NeedsReconciliation: true, CreatedAt: now, UpdatedAt: now,
	}
	h.store.Insert(context.Background(), o)
	h.wallet.Apply(context.Background(), debitFor(o))

	h.prov.statusResult = provider.OrderStatus{Reference: "prov-9", State: provider.StateTimeout}

	m.Sweep(context.Background())

	if got := h.store.get(t, o.ID); got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if bal := h.wallet.currentBalance(); bal != 2000 {
		t.Fatalf("expected refund, balance %d", bal)
	}
}

func TestReconcile_ProviderDownLeavesOrderParked(t *testing.T) {
	h, m := newMonitorHarness(2000)

	now := time.Unix(1700000000, 0).UTC()
	o := Order{
		ID: "ord-1", UserID: "u-1", Service: "telegram", Country: "russia",
		PriceMinor: 1250, Status: StatusPending, ProviderRef: "prov-9",
		NeedsReconciliation: true, CreatedAt: now, UpdatedAt: now,
	}
	h.store.Insert(context.Background(), o)
	h.wallet.Apply(context.Background(), debitFor(o))

	h.prov.statusErr = provider.ErrProviderUnavailable

	m.Sweep(context.Background())

	got := h.store.get(t, o.ID)
	if got.Status != StatusPending || !got.NeedsReconciliation {
		t.Fatalf("order must stay parked while provider is down, got %+v", got)
	}
	if bal := h.wallet.currentBalance(); bal != 750 {
		t.Fatalf("no refund while outcome unknown, balance %d", bal)
	}
}

func TestTick_SkipsWhenLockHeld(t *testing.T) {
	h, m := newMonitorHarness(2000)
	lock := &fakeLock{held: true}
	m.lock = lock

	o, err := h.svc.Place(context.Background(), placeReq())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	h.svc.clock = func() time.Time { return o.ExpiresAt.Add(time.Second) }

	m.tick(context.Background())

	if got := h.store.get(t, o.ID); got.Status != StatusActive {
		t.Fatalf("sweep must not run without the lock, got %s", got.Status)
	}
	if lock.unlocks != 0 {
		t.Fatalf("must not unlock a lock it never held")
	}
}

func debitFor(o Order) ledger.ApplyRequest {
	return ledger.ApplyRequest{
		UserID:         o.UserID,
		AmountMinor:    -o.PriceMinor,
		Kind:           ledger.KindPurchase,
		OrderID:        o.ID,
		IdempotencyKey: purchaseKey(o.ID),
	}
}
