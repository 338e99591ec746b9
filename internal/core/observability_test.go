package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"sync"
	"testing"
	"time"

	"creatureledger/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
)

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) record(prefix, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, prefix+msg)
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.record("d:", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.record("i:", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.record("w:", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.record("e:", msg) }

func (c *captureLogger) has(call string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
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

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservabilityAroundOperations(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	events := &EventRecorder{}

	svc := NewInMemoryService(domain.DefaultParams(),
		WithEntropy(&FixedEntropy{Value: []byte(testSeed)}),
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
		WithClock(ClockFunc(func() time.Time { return fixed })),
		WithNotificationSink(events),
	)

	if _, _, err := svc.Mint(ctx, "alice"); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !audit.has(opMint, AuditStatusError, func(e AuditEntry) bool { return e.Account == "alice" && e.Error != "" }) {
		t.Fatalf("expected audit error entry for mint")
	}
	if !metrics.has(opMint, false) || !tracer.has(opMint, false) {
		t.Fatalf("expected failed mint observed")
	}
	if !logger.has("i:operation rejected") {
		t.Fatalf("expected rejection logged, got %v", logger.calls)
	}

	if _, err := svc.Deposit(ctx, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	asset, _, err := svc.Mint(ctx, "alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !audit.has(opMint, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == asset.ID.String() && e.Entity == domain.EntityAsset && e.Action == domain.ActionCreate && e.Timestamp.Equal(fixed)
	}) {
		t.Fatalf("expected audit success entry for mint, got %+v", audit.entries)
	}
	if !audit.has(opDeposit, AuditStatusSuccess, func(e AuditEntry) bool { return e.Entity == domain.EntityBalance }) {
		t.Fatalf("expected audit entry for deposit")
	}
	if !metrics.has(opMint, true) || !tracer.has(opMint, true) {
		t.Fatalf("expected successful mint observed")
	}
	if !logger.has("d:operation committed") {
		t.Fatalf("expected commit logged, got %v", logger.calls)
	}
	if got := events.Events(); len(got) != 1 || !got[0].OccurredAt.Equal(fixed) {
		t.Fatalf("expected event stamped by the service clock, got %+v", got)
	}
	if len(tracer.started) != len(tracer.ended) {
		t.Fatalf("every span must end: started %v ended %v", tracer.started, tracer.ended)
	}
}

func TestSameParentBreedIsObserved(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	svc := NewInMemoryService(domain.DefaultParams(),
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
	)

	if _, _, err := svc.Breed(context.Background(), "alice", 7, 7); !errors.Is(err, domain.ErrSameAsset) {
		t.Fatalf("expected same asset, got %v", err)
	}
	if !audit.has(opBreed, AuditStatusError, func(e AuditEntry) bool {
		return e.Account == "alice" && strings.Contains(e.Error, domain.ErrSameAsset.Error())
	}) {
		t.Fatalf("expected audit error entry for breed, got %+v", audit.entries)
	}
	if !metrics.has(opBreed, false) || !tracer.has(opBreed, false) {
		t.Fatalf("expected failed breed observed")
	}
	if !logger.has("i:operation rejected") {
		t.Fatalf("expected rejection logged, got %v", logger.calls)
	}
}

func TestRecordAuditIgnoresUnknownOperation(t *testing.T) {
	recorder := &captureAuditRecorder{}
	svc := NewInMemoryService(domain.DefaultParams(), WithAuditRecorder(recorder))
	svc.recordAudit(context.Background(), "unknown_operation", "alice", "1", time.Second, nil)
	if len(recorder.entries) != 0 {
		t.Fatalf("expected no audit entries for unknown operation, got %d", len(recorder.entries))
	}
}

func TestDefaultServiceOptions(t *testing.T) {
	opts := defaultServiceOptions()
	if opts.clock == nil || opts.logger == nil || opts.audit == nil || opts.metrics == nil || opts.tracer == nil || opts.sink == nil {
		t.Fatalf("expected defaults populated")
	}
	if opts.params != domain.DefaultParams() {
		t.Fatalf("unexpected default params %+v", opts.params)
	}
	_ = opts.clock.Now()
	opts.audit.Record(context.Background(), AuditEntry{})
	opts.metrics.Observe(context.Background(), "noop", true, 0)
	_, span := opts.tracer.Start(context.Background(), "noop")
	span.End(nil)
	if err := opts.sink.Publish(context.Background(), domain.Event{}); err != nil {
		t.Fatalf("noop sink: %v", err)
	}
	var logger noopLogger
	logger.Debug("d", "k", 1)
	logger.Info("i", "k", 2)
	logger.Warn("w", "k", 3)
	logger.Error("e", "k", 4)

	// nil collaborators keep the defaults
	svc := NewService(nil, WithLogger(nil), WithAuditRecorder(nil), WithMetricsRecorder(nil), WithTracer(nil), WithClock(nil), WithNotificationSink(nil), WithEntropy(nil))
	if svc.logger == nil || svc.audit == nil || svc.metrics == nil || svc.tracer == nil || svc.clock == nil || svc.sink == nil || svc.genomes == nil {
		t.Fatalf("expected nil options ignored")
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "creatureledger_ledger_") {
		t.Fatalf("unexpected generated name %s", rec.Name())
	}
	rec.Observe(context.Background(), opMint, true, 2*time.Millisecond)
	rec.Observe(context.Background(), opMint, false, 3*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	mint := rec.Snapshot().Operations[opMint]
	if mint.Committed != 1 || mint.Rejected != 1 || mint.Count() != 2 {
		t.Fatalf("unexpected counters %+v", mint)
	}
	if mint.TotalMS != 5 || mint.MaxMS != 3 {
		t.Fatalf("unexpected latency totals %+v", mint)
	}
	if len(rec.Snapshot().Operations) != 1 {
		t.Fatalf("unnamed operations must be ignored")
	}
	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("expected expvar export for %s", rec.Name())
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
	if decoded.Operations[opMint].Committed != 1 {
		t.Fatalf("unexpected published snapshot %+v", decoded)
	}
}

func TestJSONTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, transfer := tracer.Start(context.Background(), opTransfer)
	_, mint := tracer.Start(context.Background(), opMint)
	mint.End(nil)
	transfer.End(domain.ErrNotOwner)
	transfer.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Operation != opMint || entries[0].Span != 2 || entries[0].Outcome != SpanCommitted || entries[0].Error != "" {
		t.Fatalf("unexpected committed span %+v", entries[0])
	}
	if entries[1].Span != 1 || entries[1].Outcome != SpanRejected || entries[1].Error != domain.ErrNotOwner.Error() {
		t.Fatalf("unexpected rejected span %+v", entries[1])
	}
	dec := json.NewDecoder(&buf)
	for _, want := range entries {
		var decoded JSONTraceEntry
		if err := dec.Decode(&decoded); err != nil {
			t.Fatalf("decode span: %v", err)
		}
		if decoded.Span != want.Span || decoded.Outcome != want.Outcome {
			t.Fatalf("encoded span %+v does not match %+v", decoded, want)
		}
	}
	silent := NewJSONTracer(nil)
	_, span := silent.Start(context.Background(), opBreed)
	span.End(nil)
	if len(silent.Entries()) != 1 {
		t.Fatalf("expected retained span")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	multi := MultiMetricsRecorder{rec, nil, &captureMetricsRecorder{}}
	multi.Observe(context.Background(), opMint, true, 10*time.Millisecond)
	multi.Observe(context.Background(), opMint, true, 20*time.Millisecond)
	multi.Observe(context.Background(), opTransfer, false, time.Millisecond)
	multi.Observe(context.Background(), "", true, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := make(map[string]float64)
	var histograms uint64
	for _, mf := range families {
		switch mf.GetName() {
		case "creatureledger_operations_total":
			for _, m := range mf.GetMetric() {
				var op, status string
				for _, label := range m.GetLabel() {
					switch label.GetName() {
					case "operation":
						op = label.GetValue()
					case "status":
						status = label.GetValue()
					}
				}
				counts[op+"/"+status] = m.GetCounter().GetValue()
			}
		case "creatureledger_operation_duration_seconds":
			for _, m := range mf.GetMetric() {
				histograms += m.GetHistogram().GetSampleCount()
			}
		}
	}
	if counts["mint/success"] != 2 || counts["transfer/error"] != 1 {
		t.Fatalf("unexpected counters %v", counts)
	}
	if histograms != 3 {
		t.Fatalf("expected 3 latency samples, got %d", histograms)
	}

	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
