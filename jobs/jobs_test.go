package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/delivery"
	jobmetrics "github.com/lilas/backoffice/internal/jobs"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubSweeper struct {
	report delivery.SyncReport
	err    error
	calls  int
}

func (s *stubSweeper) Sweep(context.Context) (delivery.SyncReport, error) {
	s.calls++
	return s.report, s.err
}

func TestDeliverySyncJob(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	task, err := NewDeliverySyncTask(TriggerManual, time.Minute)
	require.NoError(t, err)

	sweeper := &stubSweeper{report: delivery.SyncReport{Checked: 2, Updated: 1, Unchanged: 1}}
	job := NewDeliverySyncJob(sweeper, quiet, metrics)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, sweeper.calls)

	sweeper.err = delivery.ErrSyncInProgress
	require.NoError(t, job.Handle(context.Background(), task))

	boom := errors.New("db down")
	sweeper.err = boom
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)

	bad := asynq.NewTask(TaskDeliverySync, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type stubWarmer struct {
	built int
	err   error
	ctx   context.Context
}

func (w *stubWarmer) Warm(ctx context.Context) (int, error) {
	w.ctx = ctx
	return w.built, w.err
}

func TestReportWarmupJob(t *testing.T) {
	warmer := &stubWarmer{built: 10}
	job := NewReportWarmupJob(warmer, quiet, nil)
	require.NoError(t, job.Handle(context.Background(), NewReportWarmupTask()))
	_, hasDeadline := warmer.ctx.Deadline()
	require.True(t, hasDeadline)

	warmer.err = errors.New("redis down")
	require.Error(t, job.Handle(context.Background(), NewReportWarmupTask()))

	var unset *ReportWarmupJob
	require.Error(t, unset.Handle(context.Background(), NewReportWarmupTask()))
}

type stubCleaner struct {
	olderThan time.Duration
}

func (c *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.olderThan = olderThan
	return 3, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	store := &stubCleaner{}
	job := NewIdempotencyCleanupJob(store, 48*time.Hour, quiet, nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, store.olderThan)

	task, err = NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, store.olderThan)

	job.Retention = 0
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, store.olderThan)
}

func TestSchedule(t *testing.T) {
	regs, err := Schedule(ScheduleConfig{
		DeliverySyncSpec:     "@every 30m",
		ReportWarmupSpec:     "10 * * * *",
		CleanupSpec:          "@daily",
		SyncUnique:           10 * time.Minute,
		IdempotencyRetention: 72 * time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, regs, 3)
	require.Equal(t, TaskDeliverySync, regs[0].Task.Type())
	require.Equal(t, TaskReportWarmup, regs[1].Task.Type())
	require.Equal(t, TaskIdempotencyCleanup, regs[2].Task.Type())

	var payload DeliverySyncPayload
	require.NoError(t, json.Unmarshal(regs[0].Task.Payload(), &payload))
	require.Equal(t, TriggerSchedule, payload.Trigger)

	var cleanup IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(regs[2].Task.Payload(), &cleanup))
	require.Equal(t, 72*time.Hour, cleanup.Retention)

	regs, err = Schedule(ScheduleConfig{DeliverySyncSpec: "@every 5m"})
	require.NoError(t, err)
	require.Len(t, regs, 1)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestEnqueueDeliverySync(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake, syncUnique: time.Minute}

	id, err := client.EnqueueDeliverySync(context.Background())
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
	require.Len(t, fake.tasks, 1)
	var payload DeliverySyncPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	require.Equal(t, TriggerManual, payload.Trigger)

	fake.err = asynq.ErrDuplicateTask
	_, err = client.EnqueueDeliverySync(context.Background())
	require.ErrorIs(t, err, delivery.ErrSyncInProgress)
}
