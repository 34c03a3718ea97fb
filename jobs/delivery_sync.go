package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lilas/backoffice/internal/delivery"
	jobmetrics "github.com/lilas/backoffice/internal/jobs"
)

// Sweeper runs one delivery reconciliation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (delivery.SyncReport, error)
}

// DeliverySyncJob runs the carrier sweep.
type DeliverySyncJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDeliverySyncJob wires dependencies for the sync handler.
func NewDeliverySyncJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *DeliverySyncJob {
	return &DeliverySyncJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle processes TaskDeliverySync tasks. A sweep already running on
// another worker is not a failure.
func (j *DeliverySyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("delivery sync: handler not configured")
	}
	var payload DeliverySyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := jobLogger(j.Logger, TaskDeliverySync).With(slog.String("trigger", payload.Trigger))

	tracker := j.Metrics.Track(TaskDeliverySync)
	report, err := j.Sweeper.Sweep(ctx)
	if errors.Is(err, delivery.ErrSyncInProgress) {
		logger.InfoContext(ctx, "delivery sync skipped, another sweep holds the lock")
		return tracker.End(nil)
	}
	if err != nil {
		logger.ErrorContext(ctx, "delivery sync aborted", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.InfoContext(ctx, "delivery sync done",
		slog.Int("checked", report.Checked),
		slog.Int("updated", report.Updated),
		slog.Int("failed", report.Failed))
	return tracker.End(nil)
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
