package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lilas/backoffice/internal/jobs"
)

// Warmer pre-builds cached reports.
type Warmer interface {
	Warm(ctx context.Context) (int, error)
}

// ReportWarmupJob fills the report cache ahead of the morning rush.
type ReportWarmupJob struct {
	Reports Warmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewReportWarmupJob wires dependencies for the warm-up handler.
func NewReportWarmupJob(reports Warmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportWarmupJob {
	return &ReportWarmupJob{Reports: reports, Logger: logger, Metrics: metrics, Timeout: 2 * time.Minute}
}

// Handle processes TaskReportWarmup tasks.
func (j *ReportWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Reports == nil {
		return errors.New("report warmup: handler not configured")
	}
	logger := jobLogger(j.Logger, TaskReportWarmup)
	tracker := j.Metrics.Track(TaskReportWarmup)

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	start := time.Now()
	built, err := j.Reports.Warm(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "report warmup failed", slog.Int("built", built), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.InfoContext(ctx, "report warmup done", slog.Int("built", built), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}
