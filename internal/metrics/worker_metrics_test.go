package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWorkerMetrics_OutboxBacklog(t *testing.T) {
	m := NewWorkerMetricsWithRegisterer(prometheus.NewRegistry())

	m.SetOutboxBacklog(3, 2*time.Second)
	if got := testutil.ToFloat64(m.outboxPendingRecords); got != 3 {
		t.Fatalf("expected 3 pending, got %f", got)
	}
	if got := testutil.ToFloat64(m.outboxOldestPendingAge); got != 2 {
		t.Fatalf("expected age 2s, got %f", got)
	}

	m.SetOutboxBacklog(0, -time.Second)
	if got := testutil.ToFloat64(m.outboxOldestPendingAge); got != 0 {
		t.Fatalf("negative age must clamp to zero, got %f", got)
	}
}

func TestWorkerMetrics_Cleanup(t *testing.T) {
	m := NewWorkerMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordCleanupDeleted(4)
	m.RecordCleanupDeleted(0)
	m.RecordCleanupRun("ok", 4)
	m.RecordCleanupRun("error", 0)

	if got := testutil.ToFloat64(m.cleanupDeleted); got != 4 {
		t.Fatalf("expected 4 deleted, got %f", got)
	}
	if got := testutil.ToFloat64(m.cleanupLastDeleted); got != 4 {
		t.Fatalf("error run must not reset last deleted, got %f", got)
	}
	if got := testutil.ToFloat64(m.cleanupRuns.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 error run, got %f", got)
	}
}

func TestWorkerMetrics_NilSafe(t *testing.T) {
	var m *WorkerMetrics
	m.RecordPublishAttempt("sent")
	m.SetOutboxBacklog(1, time.Second)
	m.RecordCleanupRun("ok", 1)
	m.RecordCleanupDeleted(1)
}
