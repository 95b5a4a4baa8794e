package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for facility trust, consent and the record
// catalog. All methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Authentication attempts by outcome: "success", "failure"
	AuthAttempts *prometheus.CounterVec

	// Consent decisions by outcome: "allowed", "denied"
	ConsentDecisions *prometheus.CounterVec

	// Records written or removed by kind and operation
	RecordOps *prometheus.CounterVec

	// Record store latency by backend and operation
	StoreLatency *prometheus.HistogramVec

	// Full sharing fetch latency
	FetchLatency prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers the integrator metrics on reg. A nil reg uses the default
// Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	return &Metrics{
		AuthAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "integrator_facility_auth_attempts_total",
			Help: "Facility authentication attempts by outcome",
		}, []string{"outcome"}),

		ConsentDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "integrator_consent_decisions_total",
			Help: "Consent evaluations by outcome",
		}, []string{"outcome"}),

		RecordOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "integrator_record_operations_total",
			Help: "Cached record operations by kind and operation",
		}, []string{"kind", "op"}),

		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "integrator_store_duration_seconds",
			Help:    "Duration of record store operations by backend and operation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"backend", "op"}),

		FetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "integrator_share_fetch_duration_seconds",
			Help:    "Duration of a full cross-facility fetch including consent evaluation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		gatherer: gatherer,
	}
}

func (m *Metrics) IncAuth(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.AuthAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncConsent(allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.ConsentDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRecordOp(kind, op string) {
	if m != nil {
		m.RecordOps.WithLabelValues(kind, op).Inc()
	}
}

// ObserveStore records the duration of a record store call.
func (m *Metrics) ObserveStore(backend, op string, d time.Duration) {
	if m != nil {
		m.StoreLatency.WithLabelValues(backend, op).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m != nil {
		m.FetchLatency.Observe(d.Seconds())
	}
}

// Handler exposes the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
