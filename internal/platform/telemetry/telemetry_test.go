package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installRecorder routes the global provider to an in-memory exporter for the
// duration of the test.
func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exp
}

func attr(spans tracetest.SpanStubs, key string) (attribute.Value, bool) {
	for _, kv := range spans[0].Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// ---------------------------------------------------------------------------
// Config defaults
// ---------------------------------------------------------------------------

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	if cfg.ServiceName != "integrator" {
		t.Errorf("expected default ServiceName='integrator', got %q", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "0.0.0" {
		t.Errorf("expected default ServiceVersion='0.0.0', got %q", cfg.ServiceVersion)
	}
	if cfg.Environment != "development" {
		t.Errorf("expected default Environment='development', got %q", cfg.Environment)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected default SampleRate=1.0, got %f", cfg.SampleRate)
	}
}

func TestConfig_OutOfRangeSampleRate(t *testing.T) {
	cfg := Config{SampleRate: 3}
	cfg.applyDefaults()
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected SampleRate clamped to 1.0, got %f", cfg.SampleRate)
	}
}

// ---------------------------------------------------------------------------
// Spans
// ---------------------------------------------------------------------------

func TestStartSpan_EndSpanRecordsError(t *testing.T) {
	exp := installRecorder(t)

	_, span := StartSpan(context.Background(), "catalog.ingest", attribute.String("kind", "note"))
	EndSpan(span, errors.New("boom"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "catalog.ingest" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status.Code)
	}
	if v, ok := attr(spans, "kind"); !ok || v.AsString() != "note" {
		t.Errorf("expected kind attribute, got %v", v)
	}
}

func TestEndSpan_NoError(t *testing.T) {
	exp := installRecorder(t)

	_, span := StartSpan(context.Background(), "ok")
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code == codes.Error {
		t.Fatalf("expected one span without error, got %+v", spans)
	}
}

// ---------------------------------------------------------------------------
// TracingMiddleware
// ---------------------------------------------------------------------------

func TestTracingMiddleware_NamesSpanAfterRoute(t *testing.T) {
	exp := installRecorder(t)

	e := echo.New()
	e.Use(TracingMiddleware())
	e.GET("/records/:kind", func(c echo.Context) error {
		c.Set("facility_id", 7)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/records/note", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "HTTP GET /records/:kind" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	if v, ok := attr(spans, "http.status_code"); !ok || v.AsString() != "200" {
		t.Errorf("expected status 200 attribute, got %v", v)
	}
	if v, ok := attr(spans, "facility.id"); !ok || v.AsInt64() != 7 {
		t.Errorf("expected facility.id attribute, got %v", v)
	}
}

func TestTracingMiddleware_MarksServerErrors(t *testing.T) {
	exp := installRecorder(t)

	e := echo.New()
	e.Use(TracingMiddleware())
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "down")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected error status for 503")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 response, got %d", rec.Code)
	}
}
