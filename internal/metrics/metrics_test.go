package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if upstreamRequestsTotal == nil || rowsTotal == nil ||
		writesTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveUpstream(t *testing.T) {
	Init()
	before := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("export", "test-ok"))
	ObserveUpstream("export", "test-ok", 120*time.Millisecond)
	if got := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("export", "test-ok")); got != before+1 {
		t.Errorf("expected upstream counter to grow by 1, got %f -> %f", before, got)
	}
}

func TestObserveRowsIgnoresEmpty(t *testing.T) {
	Init()
	before := testutil.ToFloat64(rowsTotal.WithLabelValues("test-mode"))
	ObserveRows("test-mode", 0)
	ObserveRows("test-mode", 12)
	if got := testutil.ToFloat64(rowsTotal.WithLabelValues("test-mode")); got != before+12 {
		t.Errorf("expected rows counter to grow by 12, got %f -> %f", before, got)
	}
}

func TestObserveRetryAndWrite(t *testing.T) {
	ObserveRetry("page", "parse")
	ObserveRetry("page", "parse")
	if got := testutil.ToFloat64(upstreamRetriesTotal.WithLabelValues("page", "parse")); got < 2 {
		t.Errorf("expected at least 2 parse retries, got %f", got)
	}

	ObserveWrite("error")
	if got := testutil.ToFloat64(writesTotal.WithLabelValues("error")); got < 1 {
		t.Errorf("expected at least 1 failed write, got %f", got)
	}
}
