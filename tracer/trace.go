package tracer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Tracer assembles spans into traces and exports completed traces.
//
// It embeds the span engine, so all engine operations (FinishSpan,
// AddSpanEvent, SetSpanAttribute) are available directly on the Tracer.
// Export is asynchronous and best-effort: a slow or failing exporter never
// blocks or fails the instrumented operation, and failed exports are logged
// and discarded, never retried.
type Tracer struct {
	*Engine

	cfg    Config
	logger *slog.Logger
	buf    *traceBuffer

	mu        sync.Mutex
	exporters []SpanExporter

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	exportedTraces uint64
	exportFailures uint64
}

// New creates a Tracer with a dedicated span engine.
// A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSpansPerTrace <= 0 {
		cfg.MaxSpansPerTrace = 100
	}
	if cfg.MaxTraceAge <= 0 {
		cfg.MaxTraceAge = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 5 * time.Second
	}

	engine := NewEngine(cfg, logger)
	t := &Tracer{
		Engine: engine,
		cfg:    cfg,
		logger: logger.With("component", "tracer"),
		buf:    newTraceBuffer(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	engine.setSink(t)
	return t
}

// RegisterExporter adds a sink that receives every exported trace.
func (t *Tracer) RegisterExporter(exp SpanExporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exporters = append(t.exporters, exp)
}

// Start launches the staleness sweep. It returns immediately.
func (t *Tracer) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()
	go t.sweepLoop()
}

// Stop halts the sweep and force-exports all pending traces.
func (t *Tracer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.mu.Lock()
		started := t.started
		t.mu.Unlock()
		if started {
			<-t.doneCh
		}
		for traceID, spans := range t.buf.takeAll() {
			t.export(traceID, spans)
		}
	})
}

// StartSpan begins a new root span.
func (t *Tracer) StartSpan(operationName string) TraceContext {
	ctx := t.Engine.StartSpan(operationName, nil)
	t.trackStart(ctx)
	return ctx
}

// StartChildSpan begins a span inside the parent's trace, inheriting its
// correlation id and baggage.
func (t *Tracer) StartChildSpan(operationName string, parent TraceContext) TraceContext {
	ctx := t.Engine.StartSpan(operationName, &parent)
	t.trackStart(ctx)
	return ctx
}

// ActiveTraces returns the number of traces currently buffered.
func (t *Tracer) ActiveTraces() int {
	return t.buf.size()
}

func (t *Tracer) trackStart(ctx TraceContext) {
	if ctx.Sampled() {
		t.buf.openSpan(ctx.TraceID, ctx.StartTime)
	}
}

// consumeFinished implements spanSink for the engine.
func (t *Tracer) consumeFinished(span *Span) {
	spans, complete := t.buf.finishSpan(span, t.cfg.MaxSpansPerTrace)
	if complete {
		go t.export(span.TraceID, spans)
	}
}

func (t *Tracer) sweepLoop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			stale := t.buf.takeStale(t.cfg.MaxTraceAge)
			if len(stale) == 0 {
				continue
			}
			t.logger.Warn("force-exporting stale traces", "count", len(stale))
			for traceID, spans := range stale {
				t.export(traceID, spans)
			}
		}
	}
}

// export hands a trace to every registered exporter, racing each call
// against the export timeout. The trace is gone afterward either way.
func (t *Tracer) export(traceID string, spans []*Span) {
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].StartTime.Before(spans[j].StartTime)
	})

	t.mu.Lock()
	exporters := make([]SpanExporter, len(t.exporters))
	copy(exporters, t.exporters)
	t.exportedTraces++
	t.mu.Unlock()

	for _, exp := range exporters {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ExportTimeout)
		errCh := make(chan error, 1)
		go func(exp SpanExporter) {
			errCh <- exp.ExportSpans(ctx, spans)
		}(exp)

		select {
		case err := <-errCh:
			if err != nil {
				t.noteExportFailure()
				t.logger.Error("trace export failed",
					"trace_id", traceID,
					"spans", len(spans),
					"error", err,
				)
			}
		case <-ctx.Done():
			t.noteExportFailure()
			t.logger.Error("trace export timed out",
				"trace_id", traceID,
				"spans", len(spans),
			)
		}
		cancel()
	}
}

func (t *Tracer) noteExportFailure() {
	t.mu.Lock()
	t.exportFailures++
	t.mu.Unlock()
}
