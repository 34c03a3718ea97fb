package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsRuns(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("delivery:sync").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("delivery:sync").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("delivery:sync", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("delivery:sync", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("delivery:sync")))
}

func TestSyncOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SyncOutcome("updated", 3)
	m.SyncOutcome("updated", 0)
	m.SyncOutcome("failed", 1)

	require.Equal(t, 3.0, testutil.ToFloat64(m.synced.WithLabelValues("updated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.synced.WithLabelValues("failed")))

	var nilMetrics *Metrics
	nilMetrics.SyncOutcome("updated", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
