package metrics

import (
	"context"
	"log/slog"
)

// MetricsExporter receives the live aggregation records on every flush.
// Implementations get a bounded time budget via ctx; failures are logged by
// the collector and never retried.
type MetricsExporter interface {
	ExportMetrics(ctx context.Context, records []AggregatedMetric) error
}

// LogExporter writes one line per aggregation record to a logger.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a LogExporter. A nil logger falls back to
// slog.Default().
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger.With("component", "metrics-exporter")}
}

func (e *LogExporter) ExportMetrics(ctx context.Context, records []AggregatedMetric) error {
	for _, r := range records {
		e.logger.InfoContext(ctx, "aggregated metric",
			"name", r.Name,
			"window", r.Window.String(),
			"window_start", r.WindowStart,
			"count", r.Count,
			"sum", r.Sum,
			"avg", r.Avg,
			"min", r.Min,
			"max", r.Max,
			"rate", r.Rate,
		)
	}
	return nil
}

var _ MetricsExporter = (*LogExporter)(nil)
