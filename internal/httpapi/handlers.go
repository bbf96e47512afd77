package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"numbershop/internal/catalog"
	"numbershop/internal/ledger"
	"numbershop/internal/order"

	"github.com/gin-gonic/gin"
)

// Service surfaces consumed by the handlers. Narrow on purpose; the concrete
// services satisfy them and tests swap in fakes.
type walletAPI interface {
	GetBalance(ctx context.Context, userID string) (ledger.Account, error)
	Deposit(ctx context.Context, userID string, amountMinor int64, evidenceRef, idempotencyKey string) (ledger.Transaction, ledger.Account, error)
	AdminAdjust(ctx context.Context, userID string, amountMinor int64, reason, idempotencyKey string) (ledger.Transaction, ledger.Account, error)
	SetStatus(ctx context.Context, userID string, status ledger.AccountStatus) error
	VerifyBalance(ctx context.Context, userID string) (ledger.AuditResult, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error)
}

type catalogAPI interface {
	ListEnabled(ctx context.Context) ([]catalog.PricedEntry, error)
	ListAll(ctx context.Context) ([]catalog.Entry, error)
	Upsert(ctx context.Context, e catalog.Entry) (catalog.Entry, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

type orderAPI interface {
	Place(ctx context.Context, req order.PlaceRequest) (order.Order, error)
	Confirm(ctx context.Context, userID, orderID string) (order.Order, error)
	GetForUser(ctx context.Context, userID, orderID string) (order.Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]order.Order, error)
	Get(ctx context.Context, orderID string) (order.Order, error)
	AdminRefund(ctx context.Context, orderID, reason string) (order.Order, error)
}

// listingAPI is the provider catalog surface (cached client in production).
type listingAPI interface {
	ListServices(ctx context.Context) ([]string, error)
	ListCountries(ctx context.Context, service string) ([]string, error)
}

type Handlers struct {
	log      *slog.Logger
	wallet   walletAPI
	catalog  catalogAPI
	orders   orderAPI
	listings listingAPI
}

func NewHandlers(log *slog.Logger, wallet walletAPI, cat catalogAPI, orders orderAPI, listings listingAPI) *Handlers {
	return &Handlers{
		log:      log,
		wallet:   wallet,
		catalog:  cat,
		orders:   orders,
		listings: listings,
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

/* ===================== WALLET ===================== */

func (h *Handlers) GetBalance(c *gin.Context) {
	acc, err := h.wallet.GetBalance(c.Request.Context(), currentUserID(c))
	if errors.Is(err, ledger.ErrNotFound) {
		// Accounts are provisioned lazily on first posting; no account means
		// an empty wallet, not an error.
		c.JSON(http.StatusOK, gin.H{"user_id": currentUserID(c), "balance_minor": 0})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       acc.UserID,
		"balance_minor": acc.BalanceMinor,
		"status":        acc.Status,
	})
}

type depositRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	EvidenceRef    string `json:"evidence_ref"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handlers) CreateDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	txn, acc, err := h.wallet.Deposit(c.Request.Context(), currentUserID(c), req.AmountMinor, req.EvidenceRef, req.IdempotencyKey)
	if err != nil {
		writeError(c, err)
		return
	}
	h.log.InfoContext(c.Request.Context(), "deposit posted",
		"user_id", currentUserID(c), "amount_minor", req.AmountMinor, "transaction_id", txn.ID)
	c.JSON(http.StatusCreated, gin.H{
		"transaction":   txn,
		"balance_minor": acc.BalanceMinor,
	})
}

func (h *Handlers) ListTransactions(c *gin.Context) {
	txns, err := h.wallet.ListTransactions(c.Request.Context(), currentUserID(c), intQuery(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": emptyIfNilTxns(txns)})
}

/* ===================== CATALOG ===================== */

func (h *Handlers) ListServices(c *gin.Context) {
	entries, err := h.catalog.ListEnabled(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []catalog.PricedEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"services": entries})
}

func (h *Handlers) ListCountries(c *gin.Context) {
	countries, err := h.listings.ListCountries(c.Request.Context(), c.Param("service"))
	if err != nil {
		writeError(c, err)
		return
	}
	if countries == nil {
		countries = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"countries": countries})
}

/* ===================== ORDERS ===================== */

type placeOrderRequest struct {
	Service   string `json:"service"`
	Country   string `json:"country"`
	Operator  string `json:"operator"`
	RequestID string `json:"request_id"`
}

func (h *Handlers) PlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := h.orders.Place(c.Request.Context(), order.PlaceRequest{
		UserID:    currentUserID(c),
		Service:   req.Service,
		Country:   req.Country,
		Operator:  req.Operator,
		RequestID: req.RequestID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": o})
}

func (h *Handlers) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListForUser(c.Request.Context(), currentUserID(c), intQuery(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.orders.GetForUser(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

func (h *Handlers) ConfirmOrder(c *gin.Context) {
	o, err := h.orders.Confirm(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

/* ===================== HELPERS ===================== */

func intQuery(c *gin.Context, key string) int {
	v := c.Query(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func emptyIfNilTxns(txns []ledger.Transaction) []ledger.Transaction {
	if txns == nil {
		return []ledger.Transaction{}
	}
	return txns
}
