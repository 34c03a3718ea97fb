package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskDeliverySync reconciles open deliveries with the carrier.
	TaskDeliverySync = "delivery:sync"
	// TaskReportWarmup pre-builds the dashboard reports.
	TaskReportWarmup = "report:warmup"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// Triggers recorded on sync payloads.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// DeliverySyncPayload records why a sweep was queued.
type DeliverySyncPayload struct {
	Trigger string `json:"trigger"`
}

// NewDeliverySyncTask builds a sweep task. The unique option keeps at most
// one queued sweep per window.
func NewDeliverySyncTask(trigger string, uniqueFor time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(DeliverySyncPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(0)}
	if uniqueFor > 0 {
		opts = append(opts, asynq.Unique(uniqueFor))
	}
	return asynq.NewTask(TaskDeliverySync, body, opts...), nil
}

// NewReportWarmupTask builds a cache warm-up task.
func NewReportWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskReportWarmup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds a cleanup task for keys older than
// retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
