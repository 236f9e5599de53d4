// Package metrics implements an in-process metrics collector: counters,
// gauges, and histograms recorded into tagged time series, summarized into
// fixed aggregation windows, and periodically flushed to export sinks.
//
// Recording never performs blocking I/O; exporting is decoupled from the
// hot path and is best-effort with a bounded timeout.
package metrics

import (
	"sort"
	"strings"
	"time"
)

// MetricType classifies a time series.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// MetricPoint is a single observation.
type MetricPoint struct {
	Timestamp time.Time
	Value     float64
}

// TimeSeries is a named, tagged stream of points. Points are appended in
// arrival order and pruned by the retention policy.
type TimeSeries struct {
	Name   string
	Tags   map[string]string
	Type   MetricType
	Points []MetricPoint
}

// Histogram holds cumulative bucket counts plus running sum/count/min/max.
// Bucket bounds are fixed at first observation and never resized; changing
// bounds requires a new metric key.
type Histogram struct {
	Name   string
	Tags   map[string]string
	Bounds []float64
	Counts []uint64
	Sum    float64
	Count  uint64
	Min    float64
	Max    float64
}

// DefaultBuckets is the bucket ladder used when a histogram is first
// observed without explicit bounds. Values are in milliseconds when the
// histogram records durations.
var DefaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// AggregatedMetric is one live aggregation window for one metric key.
// For a given (key, window, window start) at most one record exists; new
// observations in the same window update it in place.
type AggregatedMetric struct {
	Name        string
	Tags        map[string]string
	Window      time.Duration
	WindowStart time.Time
	Count       uint64
	Sum         float64
	Avg         float64
	Min         float64
	Max         float64
	Rate        float64
}

// Config controls collection, aggregation, retention, and flushing.
type Config struct {
	// DefaultTags are merged into every observation's tags.
	DefaultTags map[string]string

	// AggregationWindows are the pre-declared summary windows.
	AggregationWindows []time.Duration

	// RetentionRaw is the maximum age of raw points.
	RetentionRaw time.Duration

	// AggregationRetentionFactor retains an aggregation record for
	// factor*window after its window start. Short windows age out quickly,
	// long windows stick around.
	AggregationRetentionFactor int

	// MaxSeries is a hard ceiling on in-memory series; crossing it triggers
	// an immediate cleanup pass.
	MaxSeries int

	// GaugeCoalesce overwrites rather than appends a gauge point when the
	// previous point for the key is younger than this.
	GaugeCoalesce time.Duration

	// FlushInterval is how often aggregation records are exported.
	FlushInterval time.Duration

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration

	// ExportTimeout bounds each exporter call during flush.
	ExportTimeout time.Duration
}

// DefaultConfig returns collection defaults.
func DefaultConfig() Config {
	return Config{
		AggregationWindows:         []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		RetentionRaw:               time.Hour,
		AggregationRetentionFactor: 10,
		MaxSeries:                  10000,
		GaugeCoalesce:              time.Second,
		FlushInterval:              time.Minute,
		SweepInterval:              time.Minute,
		ExportTimeout:              5 * time.Second,
	}
}

// canonicalKey builds the series key: name plus lexicographically sorted
// tag pairs, so tag ordering never splits a series.
func canonicalKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}

// mergeTags overlays tags onto the default tags; observation tags win.
func mergeTags(defaults, tags map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(tags))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return merged
}
