package httpapi

import (
	"net/http"

	"numbershop/internal/catalog"
	"numbershop/internal/ledger"

	"github.com/gin-gonic/gin"
)

/* ===================== ADMIN: WALLET ===================== */

type adjustmentRequest struct {
	UserID         string `json:"user_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handlers) CreateAdjustment(c *gin.Context) {
	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	txn, acc, err := h.wallet.AdminAdjust(c.Request.Context(), req.UserID, req.AmountMinor, req.Reason, req.IdempotencyKey)
	if err != nil {
		writeError(c, err)
		return
	}
	h.log.InfoContext(c.Request.Context(), "admin adjustment posted",
		"user_id", req.UserID, "amount_minor", req.AmountMinor, "reason", req.Reason)
	c.JSON(http.StatusCreated, gin.H{
		"transaction":   txn,
		"balance_minor": acc.BalanceMinor,
	})
}

func (h *Handlers) SuspendAccount(c *gin.Context) {
	h.setAccountStatus(c, ledger.AccountStatusSuspended)
}

func (h *Handlers) UnsuspendAccount(c *gin.Context) {
	h.setAccountStatus(c, ledger.AccountStatusActive)
}

func (h *Handlers) setAccountStatus(c *gin.Context, status ledger.AccountStatus) {
	if err := h.wallet.SetStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "status": status})
}

func (h *Handlers) AuditAccount(c *gin.Context) {
	result, err := h.wallet.VerifyBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

/* ===================== ADMIN: CATALOG ===================== */

func (h *Handlers) AdminListServices(c *gin.Context) {
	entries, err := h.catalog.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"services": entries})
}

type upsertServiceRequest struct {
	BasePriceMinor int64 `json:"base_price_minor"`
	MarkupBps      int32 `json:"markup_bps"`
	Enabled        bool  `json:"enabled"`
}

func (h *Handlers) UpsertService(c *gin.Context) {
	var req upsertServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entry, err := h.catalog.Upsert(c.Request.Context(), catalog.Entry{
		Name:           c.Param("name"),
		BasePriceMinor: req.BasePriceMinor,
		MarkupBps:      req.MarkupBps,
		Enabled:        req.Enabled,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": entry})
}

func (h *Handlers) EnableService(c *gin.Context) {
	h.setServiceEnabled(c, true)
}

func (h *Handlers) DisableService(c *gin.Context) {
	h.setServiceEnabled(c, false)
}

// ProviderServices lists what the provider itself offers, for catalog setup.
func (h *Handlers) ProviderServices(c *gin.Context) {
	services, err := h.listings.ListServices(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if services == nil {
		services = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"services": services})
}

func (h *Handlers) setServiceEnabled(c *gin.Context, enabled bool) {
	if err := h.catalog.SetEnabled(c.Request.Context(), c.Param("name"), enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "enabled": enabled})
}

/* ===================== ADMIN: ORDERS ===================== */

func (h *Handlers) AdminGetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) RefundOrder(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := h.orders.AdminRefund(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}
