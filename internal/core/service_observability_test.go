package core

import (
	"context"
	"testing"
	"time"

	"scantrack/internal/infra/persistence/memory"
	"scantrack/pkg/domain"
)

type captureMetricsRecorder struct {
	observations []metricRecord
}

type metricRecord struct {
	op      string
	success bool
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.observations = append(c.observations, metricRecord{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, rec := range c.observations {
		if rec.op == op && rec.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func TestServiceObservabilityHooks(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	audit := &captureAuditRecorder{}
	svc := NewService(memory.NewStore(),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithAuditRecorder(audit),
	)
	seedBeamline(t, svc, "i22")

	if _, err := svc.AllocateScanNumber(ctx, "i22"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := svc.AllocateScanNumber(ctx, "missing"); err == nil {
		t.Fatalf("expected allocation for unknown beamline to fail")
	}

	if !metrics.has(OpAllocateScan, true) || !metrics.has(OpAllocateScan, false) {
		t.Fatalf("expected success and failure observations, got %+v", metrics.observations)
	}
	if !metrics.has(OpRegisterBeamline, true) || !metrics.has(OpSetDirectory, true) {
		t.Fatalf("expected setup operations observed, got %+v", metrics.observations)
	}

	if len(tracer.started) != len(tracer.ended) {
		t.Fatalf("every started span must end: started %d ended %d", len(tracer.started), len(tracer.ended))
	}
	var sawFailure bool
	for _, rec := range tracer.ended {
		if rec.op == OpAllocateScan && rec.err != nil {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected failed allocation span, got %+v", tracer.ended)
	}

	var sawAuditFailure bool
	for _, entry := range audit.entries {
		if entry.Operation == OpAllocateScan && !entry.Success && entry.Error != "" {
			sawAuditFailure = true
		}
		if entry.At.IsZero() {
			t.Fatalf("audit entry missing timestamp: %+v", entry)
		}
	}
	if !sawAuditFailure {
		t.Fatalf("expected failed allocation audit entry, got %+v", audit.entries)
	}
}

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), OpAllocateScan, true, 5*time.Millisecond)
	rec.Observe(context.Background(), OpAllocateScan, false, 3*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)

	snap := rec.Snapshot()
	if snap.Results[OpAllocateScan]["success"] != 1 || snap.Results[OpAllocateScan]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if snap.DurationsMS[OpAllocateScan] < 8 {
		t.Fatalf("expected aggregated duration >= 8ms, got %v", snap.DurationsMS)
	}
}

func TestJSONTracerRecordsSpans(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), OpResolvePaths)
	span.End(nil)
	_, span = tracer.Start(context.Background(), OpResolvePaths)
	span.End(context.DeadlineExceeded)

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" {
		t.Fatalf("unexpected statuses %+v", entries)
	}
	if entries[1].Error == "" {
		t.Fatalf("expected error message on failed span")
	}
}

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func TestServiceOptionsClockAndLogger(t *testing.T) {
	fixed := time.Unix(123, 0).UTC()
	log := &captureLogger{}
	audit := &captureAuditRecorder{}
	svc := NewService(memory.NewStore(),
		WithClock(stubClock{t: fixed}),
		WithLogger(log),
		WithAuditRecorder(audit),
	)
	if _, err := svc.RegisterBeamline(context.Background(), "i22", domain.TemplateRefs{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(log.calls) == 0 {
		t.Fatalf("expected logger to record calls")
	}
	if len(audit.entries) != 1 || !audit.entries[0].At.Equal(fixed) {
		t.Fatalf("expected audit timestamp from injected clock, got %+v", audit.entries)
	}
}
