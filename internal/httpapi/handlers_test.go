package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"numbershop/internal/catalog"
	"numbershop/internal/ledger"
	"numbershop/internal/order"

	"github.com/gin-gonic/gin"
)

/* ===================== FAKES ===================== */

type fakeWalletAPI struct {
	account    ledger.Account
	accountErr error

	depositTxn ledger.Transaction
	depositErr error

	audit ledger.AuditResult
}

func (f *fakeWalletAPI) GetBalance(context.Context, string) (ledger.Account, error) {
	return f.account, f.accountErr
}

func (f *fakeWalletAPI) Deposit(_ context.Context, userID string, amount int64, _, _ string) (ledger.Transaction, ledger.Account, error) {
	if f.depositErr != nil {
		return ledger.Transaction{}, ledger.Account{}, f.depositErr
	}
	return f.depositTxn, ledger.Account{UserID: userID, BalanceMinor: f.account.BalanceMinor + amount}, nil
}

func (f *fakeWalletAPI) AdminAdjust(_ context.Context, userID string, amount int64, _, _ string) (ledger.Transaction, ledger.Account, error) {
	return ledger.Transaction{UserID: userID, AmountMinor: amount}, ledger.Account{UserID: userID}, nil
}

func (f *fakeWalletAPI) SetStatus(context.Context, string, ledger.AccountStatus) error { return nil }

func (f *fakeWalletAPI) VerifyBalance(context.Context, string) (ledger.AuditResult, error) {
	return f.audit, nil
}

func (f *fakeWalletAPI) ListTransactions(context.Context, string, int) ([]ledger.Transaction, error) {
	return nil, nil
}

type fakeCatalogAPI struct {
	enabled []catalog.PricedEntry
}

func (f *fakeCatalogAPI) ListEnabled(context.Context) ([]catalog.PricedEntry, error) {
	return f.enabled, nil
}
func (f *fakeCatalogAPI) ListAll(context.Context) ([]catalog.Entry, error) { return nil, nil }
func (f *fakeCatalogAPI) Upsert(_ context.Context, e catalog.Entry) (catalog.Entry, error) {
	return e, nil
}
func (f *fakeCatalogAPI) SetEnabled(context.Context, string, bool) error { return nil }

type fakeOrderAPI struct {
	placed     order.Order
	placeErr   error
	confirm    order.Order
	confirmErr error
	got        order.Order
	getErr     error
	refunded   order.Order
	refundErr  error
}

func (f *fakeOrderAPI) Place(context.Context, order.PlaceRequest) (order.Order, error) {
	return f.placed, f.placeErr
}
func (f *fakeOrderAPI) Confirm(context.Context, string, string) (order.Order, error) {
	return f.confirm, f.confirmErr
}
func (f *fakeOrderAPI) GetForUser(context.Context, string, string) (order.Order, error) {
	return f.got, f.getErr
}
func (f *fakeOrderAPI) ListForUser(context.Context, string, int) ([]order.Order, error) {
	return nil, nil
}
func (f *fakeOrderAPI) Get(context.Context, string) (order.Order, error) { return f.got, f.getErr }
func (f *fakeOrderAPI) AdminRefund(context.Context, string, string) (order.Order, error) {
	return f.refunded, f.refundErr
}

type fakeListingAPI struct {
	services  []string
	countries []string
	err       error
}

func (f *fakeListingAPI) ListServices(context.Context) ([]string, error) {
	return f.services, f.err
}

func (f *fakeListingAPI) ListCountries(context.Context, string) ([]string, error) {
	return f.countries, f.err
}

/* ===================== HARNESS ===================== */

type apiHarness struct {
	wallet *fakeWalletAPI
	orders *fakeOrderAPI
	router *gin.Engine
}

func newAPIHarness() *apiHarness {
	gin.SetMode(gin.TestMode)

	h := &apiHarness{
		wallet: &fakeWalletAPI{},
		orders: &fakeOrderAPI{},
	}

	handlers := NewHandlers(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		h.wallet,
		&fakeCatalogAPI{enabled: []catalog.PricedEntry{{Name: "telegram", PriceMinor: 1250}}},
		h.orders,
		&fakeListingAPI{countries: []string{"russia", "usa"}},
	)

	r := gin.New()
	// Stub identity; token verification is covered in internal/auth.
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "u-1")
		c.Set("role", "user")
	})

	r.GET("/v1/balance", handlers.GetBalance)
	r.POST("/v1/deposits", handlers.CreateDeposit)
	r.GET("/v1/services", handlers.ListServices)
	r.GET("/v1/services/:service/countries", handlers.ListCountries)
	r.POST("/v1/orders", handlers.PlaceOrder)
	r.GET("/v1/orders/:id", handlers.GetOrder)
	r.POST("/v1/orders/:id/confirm", handlers.ConfirmOrder)
	r.POST("/v1/admin/orders/:id/refund", handlers.RefundOrder)

	h.router = r
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

/* ===================== TESTS ===================== */

func TestGetBalance_NoAccountReadsAsZero(t *testing.T) {
	h := newAPIHarness()
	h.wallet.accountErr = ledger.ErrNotFound

	w := h.do(t, http.MethodGet, "/v1/balance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		BalanceMinor int64 `json:"balance_minor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BalanceMinor != 0 {
		t.Fatalf("expected zero balance, got %d", resp.BalanceMinor)
	}
}

func TestCreateDeposit(t *testing.T) {
	h := newAPIHarness()
	h.wallet.account = ledger.Account{UserID: "u-1", BalanceMinor: 100}
	h.wallet.depositTxn = ledger.Transaction{ID: "t-1", AmountMinor: 500}

	w := h.do(t, http.MethodPost, "/v1/deposits",
		`{"amount_minor":500,"evidence_ref":"receipt-9","idempotency_key":"dep-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateDeposit_InvalidAmount(t *testing.T) {
	h := newAPIHarness()
	h.wallet.depositErr = ledger.ErrInvalidArgument

	w := h.do(t, http.MethodPost, "/v1/deposits", `{"amount_minor":-5,"idempotency_key":"dep-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPlaceOrder_Created(t *testing.T) {
	h := newAPIHarness()
	h.orders.placed = order.Order{ID: "ord-1", Status: order.StatusActive, PhoneNumber: "+79001234567"}

	w := h.do(t, http.MethodPost, "/v1/orders", `{"service":"telegram","country":"russia"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "+79001234567") {
		t.Fatalf("expected phone number in response: %s", w.Body.String())
	}
}

func TestPlaceOrder_InsufficientFunds(t *testing.T) {
	h := newAPIHarness()
	h.orders.placeErr = ledger.ErrInsufficientFunds

	w := h.do(t, http.MethodPost, "/v1/orders", `{"service":"telegram","country":"russia"}`)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
}

func TestPlaceOrder_AmbiguousIsAccepted(t *testing.T) {
	h := newAPIHarness()
	h.orders.placeErr = order.ErrPurchasePending

	w := h.do(t, http.MethodPost, "/v1/orders", `{"service":"telegram","country":"russia"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
}

func TestGetOrder_ForeignOrderReadsAsNotFound(t *testing.T) {
	h := newAPIHarness()
	h.orders.getErr = order.ErrNotOrderOwner

	w := h.do(t, http.MethodGet, "/v1/orders/ord-2", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("ownership failures must look like 404, got %d", w.Code)
	}
}

func TestConfirmOrder_Conflict(t *testing.T) {
	h := newAPIHarness()
	h.orders.confirmErr = order.ErrOrderNotActive

	w := h.do(t, http.MethodPost, "/v1/orders/ord-1/confirm", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestListServices(t *testing.T) {
	h := newAPIHarness()

	w := h.do(t, http.MethodGet, "/v1/services", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "telegram") || !strings.Contains(w.Body.String(), "1250") {
		t.Fatalf("expected priced catalog: %s", w.Body.String())
	}
}

func TestListCountries(t *testing.T) {
	h := newAPIHarness()

	w := h.do(t, http.MethodGet, "/v1/services/telegram/countries", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "russia") {
		t.Fatalf("expected countries: %s", w.Body.String())
	}
}

func TestRefundOrder_RequiresBody(t *testing.T) {
	h := newAPIHarness()
	h.orders.refundErr = order.ErrInvalidRequest

	w := h.do(t, http.MethodPost, "/v1/admin/orders/ord-1/refund", `{"reason":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
