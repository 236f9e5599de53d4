package tracer

import (
	"context"
	"log/slog"
)

// SpanExporter receives the finished spans of one trace per export event.
// Implementations get a bounded time budget via ctx; the result is
// fire-and-forget from the tracer's perspective.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []*Span) error
}

// LogExporter writes a one-line summary of each exported span to a logger.
// It is mainly useful in development and tests.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a LogExporter. A nil logger falls back to
// slog.Default().
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger.With("component", "span-exporter")}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []*Span) error {
	for _, span := range spans {
		e.logger.InfoContext(ctx, "span",
			"trace_id", span.TraceID,
			"span_id", span.SpanID,
			"parent_span_id", span.ParentSpanID,
			"operation", span.OperationName,
			"status", string(span.Status),
			"duration_ms", span.Duration.Milliseconds(),
		)
	}
	return nil
}

var _ SpanExporter = (*LogExporter)(nil)
