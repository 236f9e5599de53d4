package metrics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/instantcocoa/pulse/pkg/database"
)

const metricAggregatesSchema = `
CREATE TABLE IF NOT EXISTS metric_aggregates (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT        NOT NULL,
	tags         JSONB       NOT NULL DEFAULT '{}',
	window_ms    BIGINT      NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	count        BIGINT      NOT NULL,
	sum          DOUBLE PRECISION NOT NULL,
	avg          DOUBLE PRECISION NOT NULL,
	min          DOUBLE PRECISION NOT NULL,
	max          DOUBLE PRECISION NOT NULL,
	rate         DOUBLE PRECISION NOT NULL,
	exported_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_metric_aggregates_name_window
	ON metric_aggregates (name, window_ms, window_start);
`

// PostgresExporter persists aggregation records to the metric_aggregates
// table on every flush.
type PostgresExporter struct {
	db *database.DB
}

// NewPostgresExporter creates an exporter on an open database connection.
func NewPostgresExporter(db *database.DB) *PostgresExporter {
	return &PostgresExporter{db: db}
}

// EnsureSchema creates the metric_aggregates table if it does not exist.
func (e *PostgresExporter) EnsureSchema(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, metricAggregatesSchema); err != nil {
		return fmt.Errorf("failed to create metric_aggregates schema: %w", err)
	}
	return nil
}

func (e *PostgresExporter) ExportMetrics(ctx context.Context, records []AggregatedMetric) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metric_aggregates
			(name, tags, window_ms, window_start, count, sum, avg, min, max, rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.Name, tags, r.Window.Milliseconds(), r.WindowStart,
			int64(r.Count), r.Sum, r.Avg, r.Min, r.Max, r.Rate,
		); err != nil {
			return fmt.Errorf("failed to insert aggregate for %s: %w", r.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

var _ MetricsExporter = (*PostgresExporter)(nil)
