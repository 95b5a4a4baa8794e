package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncAuth(true)
	m.IncAuth(false)
	m.IncAuth(false)
	m.IncConsent(true)
	m.IncRecordOp("admission", "save")

	if got := testutil.ToFloat64(m.AuthAttempts.WithLabelValues("failure")); got != 2 {
		t.Errorf("expected 2 auth failures, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuthAttempts.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 auth success, got %v", got)
	}
	if got := testutil.ToFloat64(m.ConsentDecisions.WithLabelValues("allowed")); got != 1 {
		t.Errorf("expected 1 allowed decision, got %v", got)
	}
	if got := testutil.ToFloat64(m.RecordOps.WithLabelValues("admission", "save")); got != 1 {
		t.Errorf("expected 1 admission save, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncAuth(true)
	m.IncConsent(false)
	m.IncRecordOp("note", "delete")
	m.ObserveStore("memory", "load", time.Millisecond)
	m.ObserveFetch(time.Millisecond)
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncConsent(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "integrator_consent_decisions_total") {
		t.Error("expected consent counter in exposition output")
	}
}
