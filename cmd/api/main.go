package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"numbershop/internal/auth"
	"numbershop/internal/catalog"
	"numbershop/internal/config"
	"numbershop/internal/events"
	"numbershop/internal/httpapi"
	"numbershop/internal/ledger"
	"numbershop/internal/order"
	"numbershop/internal/provider"
	"numbershop/pkg/database"
	"numbershop/pkg/logger"
	"numbershop/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	migrationsPath  = "migrations"
	shutdownTimeout = 15 * time.Second
	sweepLockKey    = "numbershop:orders:sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger config depends on APP_ENV, which may itself be broken.
		logger.New("production").Error("config load failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(log, cfg.PostgresURL(), migrationsPath); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis open failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	authMgr, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth manager init failed", "error", err)
		os.Exit(1)
	}

	// Event pipeline: always log, webhook only when configured.
	sinks := []events.Sink{events.NewLogSink(log)}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, events.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Secret, log))
	}
	dispatcher := events.NewDispatcher(log, sinks...)
	dispatcher.Start(ctx)

	ledgerSvc := ledger.NewService(db)
	catalogSvc := catalog.NewService(db)

	prov := provider.NewCachedClient(
		provider.NewFiveSimClient(cfg.Provider),
		rdb,
		cfg.Provider.ListCacheTTL,
		log,
	)

	orderSvc := order.NewService(db, ledgerSvc, catalogSvc, prov, dispatcher, log, cfg.Orders)

	sweepLock, err := utils.NewMutex(rdb, sweepLockKey, uuid.NewString(), 2*cfg.Orders.SweepInterval)
	if err != nil {
		log.Error("sweep lock init failed", "error", err)
		os.Exit(1)
	}
	monitor := order.NewMonitor(orderSvc, sweepLock, log, cfg.Orders)
	go monitor.Run(ctx)

	handlers := httpapi.NewHandlers(log, ledgerSvc, catalogSvc, orderSvc, prov)
	router := httpapi.NewRouter(log, authMgr, handlers, db, rdb)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr, "env", cfg.App.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	dispatcher.Wait()
	log.Info("shutdown complete")
}
