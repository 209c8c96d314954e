// Package observability provides the Prometheus metrics recorder and the
// OpenTelemetry tracing provider wired into the service's observability hooks.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsRecorder implements the service MetricsRecorder on a
// dedicated registry, exposing per-operation result counters and duration
// histograms.
type PrometheusMetricsRecorder struct {
	registry  *prometheus.Registry
	results   *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder constructs a recorder with its own registry,
// including the standard process and Go runtime collectors.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scantrack_operations_total",
		Help: "Service operations by result.",
	}, []string{"operation", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scantrack_operation_duration_seconds",
		Help:    "Service operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	registry.MustRegister(results, durations)
	return &PrometheusMetricsRecorder{
		registry:  registry,
		results:   results,
		durations: durations,
	}
}

// Observe records one service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.results.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the /metrics scrape handler for the recorder's registry.
func (r *PrometheusMetricsRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry { return r.registry }
