package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pranav1703/queuectl/internal/metrics"
)

func TestObserveOutcome(t *testing.T) {
	m := metrics.New()

	m.ObserveClaim()
	m.ObserveClaim()
	m.ObserveOutcome("completed", 10*time.Millisecond)
	m.ObserveOutcome("retry", time.Second)
	m.ObserveOutcome("dead", time.Second)
	m.ObserveStoreError()

	if got := testutil.ToFloat64(m.Claimed); got != 2 {
		t.Errorf("claimed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Completed); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Retried); got != 1 {
		t.Errorf("retried = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Dead); got != 1 {
		t.Errorf("dead = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreErrors); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveClaim()
	m.ObserveStoreError()
	m.ObserveOutcome("completed", time.Second)
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := metrics.New()
	m.ObserveClaim()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "queuectl_jobs_claimed_total 1") {
		t.Errorf("metrics output missing claimed counter:\n%s", rec.Body.String())
	}
}
