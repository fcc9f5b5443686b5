package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JonMunkholm/activism/internal/core"
)

func TestMetrics_Batch(t *testing.T) {
	m := New()
	m.ItemProcessed("csv", nil)
	m.ItemProcessed("csv", nil)
	m.ItemProcessed("csv", errors.New("boom"))
	m.RunFinished("csv", 2, 1)

	if got := testutil.ToFloat64(m.itemsProcessed.WithLabelValues("csv", "ok")); got != 2 {
		t.Errorf("ok items = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.itemsProcessed.WithLabelValues("csv", "failed")); got != 1 {
		t.Errorf("failed items = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runsFinished.WithLabelValues("csv")); got != 1 {
		t.Errorf("runs finished = %v, want 1", got)
	}

	done := m.RunStarted()
	if got := testutil.ToFloat64(m.runsActive); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.runsActive); got != 0 {
		t.Errorf("active after done = %v, want 0", got)
	}
}

func TestMetrics_ValidationFailed(t *testing.T) {
	m := New()
	m.ValidationFailed("ical", core.NewParserError(core.InvalidPath, 0, 0, "http://x"))
	m.ValidationFailed("ical", errors.New("other"))

	if got := testutil.ToFloat64(m.validationFailures.WithLabelValues("ical", "INVALID_PATH")); got != 1 {
		t.Errorf("INVALID_PATH = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.validationFailures.WithLabelValues("ical", "other")); got != 1 {
		t.Errorf("other = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`activism_http_requests_total{method="GET",route="/healthz",status="200"} 1`,
		"activism_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
