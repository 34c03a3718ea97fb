package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/jobs"
)

type fakeQueue struct {
	enqueued []*asynq.Task
	err      error
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func (f *fakeQueue) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Retry: 1}, nil
}

func (f *fakeQueue) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskReportWarmup}}, nil
}

func TestTrigger(t *testing.T) {
	queue := &fakeQueue{}
	cli := &JobsCLI{client: queue, inspector: queue}

	info, err := cli.Trigger(context.Background(), jobs.TaskIdempotencyCleanup, 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIdempotencyCleanup, info.Type)
	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(queue.enqueued[0].Payload(), &payload))
	require.Equal(t, 48*time.Hour, payload.Retention)

	_, err = cli.Trigger(context.Background(), "fx:backfill", 0)
	require.ErrorContains(t, err, "unsupported job")

	queue.err = asynq.ErrDuplicateTask
	_, err = cli.Trigger(context.Background(), jobs.TaskDeliverySync, 0)
	require.ErrorContains(t, err, "already queued")
}

func TestInspect(t *testing.T) {
	queue := &fakeQueue{}
	cli := &JobsCLI{client: queue, inspector: queue}

	stats, err := cli.InspectQueue()
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, stats)

	tasks, err := cli.ListScheduled(0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	var unset *JobsCLI
	_, err = unset.InspectQueue()
	require.Error(t, err)
}
