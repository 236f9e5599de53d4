package tracer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/instantcocoa/pulse/pkg/testutil"
)

// captureExporter records every exported batch.
type captureExporter struct {
	mu      sync.Mutex
	batches [][]*Span
	err     error
}

func (e *captureExporter) ExportSpans(ctx context.Context, spans []*Span) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.batches = append(e.batches, spans)
	return nil
}

func (e *captureExporter) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

func (e *captureExporter) batch(i int) []*Span {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches[i]
}

func newTestTracer(t *testing.T, cfg Config) (*Tracer, *captureExporter) {
	t.Helper()
	tr := New(cfg, testutil.DiscardLogger())
	exp := &captureExporter{}
	tr.RegisterExporter(exp)
	return tr, exp
}

func TestTracer_ExportOnCompletion(t *testing.T) {
	tr, exp := newTestTracer(t, DefaultConfig("checkout"))
	defer tr.Stop()

	root := tr.StartSpan("process-order")
	child := tr.StartChildSpan("charge-card", root)

	tr.FinishSpan(child, StatusOK, nil)
	if exp.batchCount() != 0 {
		t.Fatal("trace exported before root finished")
	}

	tr.FinishSpan(root, StatusOK, nil)

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return exp.batchCount() == 1
	}, "completed trace exported")

	spans := exp.batch(0)
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	// Spans are ordered by start time, so the root comes first.
	if spans[0].OperationName != "process-order" {
		t.Errorf("spans[0] = %q, want process-order", spans[0].OperationName)
	}
	if spans[0].TraceID != spans[1].TraceID {
		t.Error("exported spans have different trace ids")
	}
	if tr.ActiveTraces() != 0 {
		t.Errorf("ActiveTraces() = %d, want 0", tr.ActiveTraces())
	}
}

func TestTracer_SpanCeiling(t *testing.T) {
	cfg := DefaultConfig("checkout")
	cfg.MaxSpansPerTrace = 3
	tr, exp := newTestTracer(t, cfg)
	defer tr.Stop()

	root := tr.StartSpan("batch-job")
	children := make([]TraceContext, 4)
	for i := range children {
		children[i] = tr.StartChildSpan("item", root)
	}
	for _, c := range children[:3] {
		tr.FinishSpan(c, StatusOK, nil)
	}

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return exp.batchCount() >= 1
	}, "trace force-exported at span ceiling")

	if got := len(exp.batch(0)); got != 3 {
		t.Errorf("exported %d spans, want 3", got)
	}
}

func TestTracer_StaleSweep(t *testing.T) {
	cfg := DefaultConfig("checkout")
	cfg.SweepInterval = 20 * time.Millisecond
	cfg.MaxTraceAge = 50 * time.Millisecond
	tr, exp := newTestTracer(t, cfg)
	tr.Start()
	defer tr.Stop()

	root := tr.StartSpan("hung-request")
	child := tr.StartChildSpan("db-query", root)
	tr.FinishSpan(child, StatusOK, nil)
	// The root never finishes; the sweep must force-export the partial trace.

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return exp.batchCount() >= 1
	}, "stale trace force-exported")

	if got := len(exp.batch(0)); got != 1 {
		t.Errorf("exported %d spans, want 1 (only the finished child)", got)
	}
	if tr.ActiveTraces() != 0 {
		t.Errorf("ActiveTraces() = %d, want 0 after sweep", tr.ActiveTraces())
	}
	_ = root
}

func TestTracer_StopDrains(t *testing.T) {
	tr, exp := newTestTracer(t, DefaultConfig("checkout"))

	root := tr.StartSpan("process-order")
	child := tr.StartChildSpan("charge-card", root)
	tr.FinishSpan(child, StatusOK, nil)

	tr.Stop()

	if exp.batchCount() != 1 {
		t.Fatalf("Stop() exported %d batches, want 1", exp.batchCount())
	}
	if got := len(exp.batch(0)); got != 1 {
		t.Errorf("drained %d spans, want 1", got)
	}
}

func TestTracer_StopBeforeStart(t *testing.T) {
	tr, _ := newTestTracer(t, DefaultConfig("checkout"))

	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() before Start() deadlocked")
	}
}

func TestTracer_FailingExporterIsIsolated(t *testing.T) {
	tr, good := newTestTracer(t, DefaultConfig("checkout"))
	bad := &captureExporter{err: errors.New("collector unreachable")}
	tr.RegisterExporter(bad)
	defer tr.Stop()

	root := tr.StartSpan("process-order")
	tr.FinishSpan(root, StatusOK, nil)

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return good.batchCount() == 1
	}, "healthy exporter still receives the trace")
}

func TestTraceFunc(t *testing.T) {
	tr, exp := newTestTracer(t, DefaultConfig("checkout"))
	defer tr.Stop()

	var seen TraceContext
	err := tr.TraceFunc("process-order", nil, func(ctx TraceContext) error {
		seen = ctx
		return nil
	})
	if err != nil {
		t.Fatalf("TraceFunc() error = %v", err)
	}
	if !seen.Sampled() {
		t.Fatal("function did not receive a sampled context")
	}

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return exp.batchCount() == 1
	}, "trace exported")

	span := exp.batch(0)[0]
	if span.Status != StatusOK {
		t.Errorf("Status = %v, want %v", span.Status, StatusOK)
	}
	if _, ok := span.Tags["duration_ms"]; !ok {
		t.Error("Tags[duration_ms] not set")
	}
}

func TestTraceFunc_Error(t *testing.T) {
	tr, exp := newTestTracer(t, DefaultConfig("checkout"))
	defer tr.Stop()

	want := errors.New("card declined")
	err := tr.TraceFunc("charge-card", nil, func(ctx TraceContext) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("TraceFunc() error = %v, want %v", err, want)
	}

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return exp.batchCount() == 1
	}, "trace exported")

	if got := exp.batch(0)[0].Status; got != StatusError {
		t.Errorf("Status = %v, want %v", got, StatusError)
	}
}

func TestTraceFunc_Child(t *testing.T) {
	tr, exp := newTestTracer(t, DefaultConfig("checkout"))
	defer tr.Stop()

	root := tr.StartSpan("process-order")
	err := tr.TraceFunc("charge-card", &root, func(ctx TraceContext) error {
		if ctx.TraceID != root.TraceID {
			t.Errorf("child TraceID = %q, want %q", ctx.TraceID, root.TraceID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("TraceFunc() error = %v", err)
	}
	tr.FinishSpan(root, StatusOK, nil)

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return exp.batchCount() == 1
	}, "trace exported")

	if got := len(exp.batch(0)); got != 2 {
		t.Errorf("exported %d spans, want 2", got)
	}
}

func TestTraceFuncCtx(t *testing.T) {
	tr, _ := newTestTracer(t, DefaultConfig("checkout"))
	defer tr.Stop()

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "value")

	err := tr.TraceFuncCtx(ctx, "process-order", nil, func(ctx context.Context, span TraceContext) error {
		if ctx.Value(ctxKey{}) != "value" {
			t.Error("context not passed through")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("TraceFuncCtx() error = %v", err)
	}
}
