package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"numbershop/internal/auth"
	"numbershop/internal/rbac"
	"numbershop/pkg/logger"
	"numbershop/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// NewRouter wires middleware and routes. Handlers stay thin; everything
// money-related lives in the services.
func NewRouter(log *slog.Logger, authMgr *auth.Manager, h *Handlers, db *sql.DB, rdb *redis.Client) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	r.GET("/healthz", healthHandler(db, rdb))

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authMgr))
	{
		v1.GET("/balance", h.GetBalance)
		v1.GET("/transactions", h.ListTransactions)
		v1.POST("/deposits", h.CreateDeposit)

		v1.GET("/services", h.ListServices)
		v1.GET("/services/:service/countries", h.ListCountries)

		v1.POST("/orders", h.PlaceOrder)
		v1.GET("/orders", h.ListOrders)
		v1.GET("/orders/:id", h.GetOrder)
		v1.POST("/orders/:id/confirm", h.ConfirmOrder)
	}

	admin := v1.Group("/admin")
	admin.Use(rbac.RequireAdmin())
	{
		admin.POST("/adjustments", h.CreateAdjustment)
		admin.POST("/accounts/:id/suspend", h.SuspendAccount)
		admin.POST("/accounts/:id/unsuspend", h.UnsuspendAccount)
		admin.GET("/accounts/:id/audit", h.AuditAccount)

		admin.GET("/services", h.AdminListServices)
		admin.GET("/provider/services", h.ProviderServices)
		admin.PUT("/services/:name", h.UpsertService)
		admin.POST("/services/:name/enable", h.EnableService)
		admin.POST("/services/:name/disable", h.DisableService)

		admin.GET("/orders/:id", h.AdminGetOrder)
		admin.POST("/orders/:id/refund", h.RefundOrder)
	}

	return r
}

func healthHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "db": err.Error()})
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
