package tracer

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// spanSink receives spans as they finish. The Tracer registers itself here
// to assemble finished spans into traces.
type spanSink interface {
	consumeFinished(span *Span)
}

// Health reports engine counters for self-monitoring.
type Health struct {
	ActiveSpans   int
	SpansStarted  uint64
	SpansFinished uint64
	SpansSampled  uint64
	SpansDropped  uint64
}

// Engine owns the active-span table and all span mutation.
//
// Operations on unknown or already-finished spans are silent no-ops:
// instrumentation must never become a source of application failures.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	sampler *sampler

	mu     sync.Mutex
	active map[string]*Span

	sink spanSink

	spansStarted  uint64
	spansFinished uint64
	spansSampled  uint64
	spansDropped  uint64
}

// NewEngine creates a span engine. A nil logger falls back to slog.Default().
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SamplingRate <= 0 || cfg.SamplingRate > 1 {
		cfg.SamplingRate = 1.0
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger.With("component", "tracer"),
		sampler: newSampler(cfg.SamplingRate, cfg.SamplingRules),
		active:  make(map[string]*Span),
	}
}

func (e *Engine) setSink(sink spanSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// StartSpan begins a new span. A nil parent starts a new root trace;
// otherwise the span joins the parent's trace. If the sampling decision is
// negative a no-op context is returned and nothing is recorded.
func (e *Engine) StartSpan(operationName string, parent *TraceContext) TraceContext {
	sampled := e.sampler.decide(e.cfg.ServiceName, operationName)
	if parent != nil && !parent.Sampled() {
		// Children of a sampled-out span stay sampled out so a trace is
		// never missing its root.
		sampled = false
	}
	return e.startSpan(operationName, parent, sampled)
}

func (e *Engine) startSpan(operationName string, parent *TraceContext, sampled bool) TraceContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.spansStarted++
	if !sampled {
		e.spansDropped++
		return TraceContext{OperationName: operationName}
	}
	e.spansSampled++

	now := time.Now()
	ctx := TraceContext{
		TraceID:       newTraceID(),
		SpanID:        newSpanID(),
		CorrelationID: newCorrelationID(),
		OperationName: operationName,
		StartTime:     now,
		Attributes:    make(map[string]string),
		Baggage:       make(map[string]string),
	}

	span := &Span{
		SpanID:        ctx.SpanID,
		OperationName: operationName,
		Status:        StatusOK,
		StartTime:     now,
		Tags: map[string]string{
			"service.name":    e.cfg.ServiceName,
			"service.version": e.cfg.ServiceVersion,
			"environment":     e.cfg.Environment,
		},
		Process: Process{
			ServiceName:    e.cfg.ServiceName,
			ServiceVersion: e.cfg.ServiceVersion,
			Hostname:       e.cfg.Hostname,
			Environment:    e.cfg.Environment,
		},
	}

	if parent != nil && parent.Sampled() {
		ctx.TraceID = parent.TraceID
		ctx.ParentSpanID = parent.SpanID
		ctx.CorrelationID = parent.CorrelationID
		for k, v := range parent.Baggage {
			ctx.Baggage[k] = v
		}
		// Parent attributes seed the child's; the child's own identity
		// attributes win on conflict.
		for k, v := range parent.Attributes {
			if _, ok := ctx.Attributes[k]; !ok {
				ctx.Attributes[k] = v
			}
		}
		span.References = append(span.References, SpanReference{
			Type:    RefChildOf,
			TraceID: parent.TraceID,
			SpanID:  parent.SpanID,
		})
	}

	span.TraceID = ctx.TraceID
	span.ParentSpanID = ctx.ParentSpanID
	span.CorrelationID = ctx.CorrelationID

	e.active[ctx.SpanID] = span
	return ctx
}

// FinishSpan closes the span referenced by ctx and hands it to the export
// path. Finishing an unknown, already-finished, or sampled-out span is a
// silent no-op. A non-nil err forces StatusError and records an error event.
func (e *Engine) FinishSpan(ctx TraceContext, status SpanStatus, err error) {
	e.mu.Lock()
	span, ok := e.active[ctx.SpanID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active, ctx.SpanID)

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if status == "" {
		status = StatusOK
	}
	span.Status = status
	if err != nil {
		span.Status = StatusError
		span.Tags["error"] = "true"
		span.Logs = append(span.Logs, SpanLog{
			Timestamp: span.EndTime,
			Fields: map[string]string{
				"event":       "error",
				"error.kind":  fmt.Sprintf("%T", err),
				"message":     err.Error(),
				"error.stack": callerStack(),
			},
		})
	}
	e.spansFinished++
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		sink.consumeFinished(span)
	}
}

// AddSpanEvent appends a timestamped log record to an active span.
// Unknown spans are ignored.
func (e *Engine) AddSpanEvent(ctx TraceContext, name string, fields map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	span, ok := e.active[ctx.SpanID]
	if !ok {
		return
	}
	record := make(map[string]string, len(fields)+1)
	record["event"] = name
	for k, v := range fields {
		record[k] = v
	}
	span.Logs = append(span.Logs, SpanLog{Timestamp: time.Now(), Fields: record})
}

// SetSpanAttribute sets a tag on an active span. Unknown spans are ignored.
func (e *Engine) SetSpanAttribute(ctx TraceContext, key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	span, ok := e.active[ctx.SpanID]
	if !ok {
		return
	}
	span.Tags[key] = value
}

func callerStack() string {
	return string(debug.Stack())
}

// Health returns current engine counters.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Health{
		ActiveSpans:   len(e.active),
		SpansStarted:  e.spansStarted,
		SpansFinished: e.spansFinished,
		SpansSampled:  e.spansSampled,
		SpansDropped:  e.spansDropped,
	}
}
