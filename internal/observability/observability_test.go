package observability

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCountsResults(t *testing.T) {
	rec := NewPrometheusMetricsRecorder()
	ctx := context.Background()

	rec.Observe(ctx, "allocate_scan", true, 5*time.Millisecond)
	rec.Observe(ctx, "allocate_scan", true, 2*time.Millisecond)
	rec.Observe(ctx, "allocate_scan", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	require.Equal(t, float64(2),
		testutil.ToFloat64(rec.results.WithLabelValues("allocate_scan", "success")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(rec.results.WithLabelValues("allocate_scan", "error")))
}

func TestPrometheusRecorderHandlerServesMetrics(t *testing.T) {
	rec := NewPrometheusMetricsRecorder()
	rec.Observe(context.Background(), "resolve_paths", true, time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "scantrack_operations_total")
}

func TestTracerProviderDisabled(t *testing.T) {
	provider, err := NewTracerProvider(TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.False(t, provider.Enabled())

	// Spans from the no-op provider must be usable without panicking.
	tracer := provider.ServiceTracer()
	_, span := tracer.Start(context.Background(), "allocate_scan")
	span.End(nil)

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestTracerProviderEnabledWithoutExporter(t *testing.T) {
	provider, err := NewTracerProvider(TracingConfig{
		Enabled:     true,
		Exporter:    "none",
		ServiceName: "scantrack-test",
	})
	require.NoError(t, err)
	require.True(t, provider.Enabled())

	tracer := provider.ServiceTracer()
	_, span := tracer.Start(context.Background(), "resolve_paths")
	span.End(context.DeadlineExceeded)

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	require.ErrorContains(t, err, "unsupported exporter")
}
