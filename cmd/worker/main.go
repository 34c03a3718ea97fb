package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/lilas/backoffice/internal/app"
	"github.com/lilas/backoffice/internal/delivery"
	"github.com/lilas/backoffice/internal/delivery/ghn"
	"github.com/lilas/backoffice/internal/inventory"
	jobmetrics "github.com/lilas/backoffice/internal/jobs"
	"github.com/lilas/backoffice/internal/observability"
	"github.com/lilas/backoffice/internal/platform/cache"
	"github.com/lilas/backoffice/internal/platform/db"
	"github.com/lilas/backoffice/internal/reporting"
	"github.com/lilas/backoffice/internal/shared"
	"github.com/lilas/backoffice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL, logger)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), shared.NewAuditLogger(pool))
	reportingService := reporting.NewService(reporting.NewRepository(pool), inventoryService, reportCache, cfg.Location(), logger)

	carrier := ghn.NewClient(ghn.Config{
		BaseURL: cfg.GHNBaseURL,
		Token:   cfg.GHNToken,
		Timeout: cfg.GHNTimeout,
	}, nil)
	syncService := delivery.NewSyncService(delivery.NewRepository(pool), carrier, redislock.New(redisClient), cfg.DeliverySyncLockTTL, logger).
		WithRecorder(jobMetrics).
		WithNotifier(reportCache)

	deliveryJob := jobs.NewDeliverySyncJob(syncService, logger, jobMetrics)
	warmupJob := jobs.NewReportWarmupJob(reportingService, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), cfg.IdempotencyRetention, logger, jobMetrics)

	schedule, err := jobs.Schedule(jobs.ScheduleConfig{
		DeliverySyncSpec:     cfg.DeliverySyncSpec,
		ReportWarmupSpec:     cfg.ReportWarmupSpec,
		CleanupSpec:          cfg.IdempotencyCleanupSpec,
		SyncUnique:           cfg.DeliverySyncLockTTL,
		IdempotencyRetention: cfg.IdempotencyRetention,
	})
	if err != nil {
		logger.Error("build schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDeliverySync, Handler: deliveryJob.Handle},
			{Type: jobs.TaskReportWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: schedule,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started", slog.Int("cron_entries", len(schedule)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
