package tracer

import (
	"context"
	"strconv"
	"time"
)

// TraceFunc runs fn inside a span. A nil parent starts a new root trace;
// otherwise the span is a child of parent. The span is tagged with the
// operation's wall-clock duration and finished with StatusError when fn
// returns an error; the error is returned to the caller unchanged.
func (t *Tracer) TraceFunc(operationName string, parent *TraceContext, fn func(ctx TraceContext) error) error {
	var span TraceContext
	if parent == nil {
		span = t.StartSpan(operationName)
	} else {
		span = t.StartChildSpan(operationName, *parent)
	}

	start := time.Now()
	err := fn(span)
	t.SetSpanAttribute(span, "duration_ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10))

	if err != nil {
		t.FinishSpan(span, StatusError, err)
		return err
	}
	t.FinishSpan(span, StatusOK, nil)
	return nil
}

// TraceFuncCtx is TraceFunc for context-aware operations.
func (t *Tracer) TraceFuncCtx(ctx context.Context, operationName string, parent *TraceContext, fn func(ctx context.Context, span TraceContext) error) error {
	return t.TraceFunc(operationName, parent, func(span TraceContext) error {
		return fn(ctx, span)
	})
}
