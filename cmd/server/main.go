package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lilas/backoffice/internal/app"
	"github.com/lilas/backoffice/internal/audit"
	"github.com/lilas/backoffice/internal/delivery"
	"github.com/lilas/backoffice/internal/delivery/ghn"
	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/observability"
	"github.com/lilas/backoffice/internal/platform/cache"
	"github.com/lilas/backoffice/internal/platform/db"
	"github.com/lilas/backoffice/internal/procurement"
	"github.com/lilas/backoffice/internal/reporting"
	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/internal/users"
	"github.com/lilas/backoffice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "server")

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL, logger)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger)
	usersService := users.NewService(users.NewRepository(dbpool), auditLogger)
	salesService := sales.NewService(sales.NewRepository(dbpool), auditLogger).WithNotifier(reportCache)
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), auditLogger)

	carrier := ghn.NewClient(ghn.Config{
		BaseURL:  cfg.GHNBaseURL,
		PrintURL: cfg.GHNPrintURL,
		Token:    cfg.GHNToken,
		Timeout:  cfg.GHNTimeout,
	}, nil)
	deliveryService := delivery.NewService(delivery.NewRepository(dbpool), carrier, auditLogger, logger).
		WithIdempotency(idempotencyStore).
		WithNotifier(reportCache)

	reportingService := reporting.NewService(reporting.NewRepository(dbpool), inventoryService, reportCache, cfg.Location(), logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, cfg.DeliverySyncLockTTL)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		UsersHandler:       users.NewHandler(logger, usersService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		DeliveryHandler:    delivery.NewHandler(logger, deliveryService, jobClient).WithDefaultShop(cfg.GHNShopID),
		ReportingHandler:   reporting.NewHandler(logger, reportingService),
		AuditHandler:       audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
