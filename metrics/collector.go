package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Collector records observations and drives aggregation, retention, and
// flushing. Construct one per process and inject it where needed; there is
// no package-level singleton.
type Collector struct {
	cfg    Config
	logger *slog.Logger
	store  *seriesStore

	mu        sync.Mutex
	exporters []MetricsExporter

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a collector. A nil logger falls back to
// slog.Default().
func NewCollector(cfg Config, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if len(cfg.AggregationWindows) == 0 {
		cfg.AggregationWindows = def.AggregationWindows
	}
	if cfg.RetentionRaw <= 0 {
		cfg.RetentionRaw = def.RetentionRaw
	}
	if cfg.AggregationRetentionFactor <= 0 {
		cfg.AggregationRetentionFactor = def.AggregationRetentionFactor
	}
	if cfg.MaxSeries <= 0 {
		cfg.MaxSeries = def.MaxSeries
	}
	if cfg.GaugeCoalesce <= 0 {
		cfg.GaugeCoalesce = def.GaugeCoalesce
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = def.ExportTimeout
	}

	return &Collector{
		cfg:    cfg,
		logger: logger.With("component", "metrics"),
		store:  newSeriesStore(cfg),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// RegisterExporter adds a sink that receives every flush.
func (c *Collector) RegisterExporter(exp MetricsExporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exporters = append(c.exporters, exp)
}

// Start launches the flush and retention loops.
func (c *Collector) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.loop()
}

// Stop halts the background loops and performs one final flush.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started {
			<-c.doneCh
		}
		c.Flush()
	})
}

// RecordCounter adds value (default semantics: 1) to a counter series.
func (c *Collector) RecordCounter(name string, value float64, tags map[string]string) {
	c.store.record(name, mergeTags(c.cfg.DefaultTags, tags), TypeCounter, value, nil)
}

// RecordGauge records a point-in-time value. Bursts within the coalescing
// window overwrite the previous point instead of appending.
func (c *Collector) RecordGauge(name string, value float64, tags map[string]string) {
	c.store.record(name, mergeTags(c.cfg.DefaultTags, tags), TypeGauge, value, nil)
}

// RecordHistogram records a value into the key's histogram. Buckets are
// fixed by the first observation; later bucket arguments are ignored.
func (c *Collector) RecordHistogram(name string, value float64, tags map[string]string, buckets []float64) {
	c.store.record(name, mergeTags(c.cfg.DefaultTags, tags), TypeHistogram, value, buckets)
}

// RecordTimer records a duration as a histogram on <name>.duration (in
// milliseconds) and a counter on <name>.count.
func (c *Collector) RecordTimer(name string, duration time.Duration, tags map[string]string) {
	ms := float64(duration.Nanoseconds()) / float64(time.Millisecond)
	c.RecordHistogram(name+".duration", ms, tags, nil)
	c.RecordCounter(name+".count", 1, tags)
}

// Timer measures the wall-clock duration of a block.
type Timer struct {
	c     *Collector
	name  string
	tags  map[string]string
	start time.Time
}

// StartTimer begins a timer; call Stop to record it.
func (c *Collector) StartTimer(name string, tags map[string]string) *Timer {
	return &Timer{c: c, name: name, tags: tags, start: time.Now()}
}

// Stop records the elapsed duration and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.c.RecordTimer(t.name, elapsed, t.tags)
	return elapsed
}

// Time runs fn under a timer. The timer is always recorded; if fn returns an
// error, <name>.error is additionally incremented and the error is returned
// unchanged.
func (c *Collector) Time(name string, tags map[string]string, fn func() error) error {
	timer := c.StartTimer(name, tags)
	err := fn()
	timer.Stop()
	if err != nil {
		c.RecordCounter(name+".error", 1, tags)
	}
	return err
}

// TimeCtx is Time for context-aware operations.
func (c *Collector) TimeCtx(ctx context.Context, name string, tags map[string]string, fn func(context.Context) error) error {
	return c.Time(name, tags, func() error {
		return fn(ctx)
	})
}

// MetricValues returns raw points within [since, until], merged across every
// series of the metric whose tags contain the given filter. A nil filter
// matches all series of the name; zero time bounds are open-ended.
func (c *Collector) MetricValues(name string, tags map[string]string, since, until time.Time) []MetricPoint {
	return c.store.valuesMatching(name, tags, since, until)
}

// AggregatedFor returns the live aggregation records for the metric and
// window, oldest first.
func (c *Collector) AggregatedFor(name string, window time.Duration, tags map[string]string) []AggregatedMetric {
	key := canonicalKey(name, mergeTags(c.cfg.DefaultTags, tags))
	return c.store.aggregatedFor(key, window)
}

// HistogramSnapshot returns a copy of the metric's histogram state.
func (c *Collector) HistogramSnapshot(name string, tags map[string]string) (Histogram, bool) {
	key := canonicalKey(name, mergeTags(c.cfg.DefaultTags, tags))
	return c.store.histogram(key)
}

// SeriesCount returns the number of live series.
func (c *Collector) SeriesCount() int {
	return c.store.seriesCount()
}

// PointTotal returns the number of points captured since construction.
func (c *Collector) PointTotal() uint64 {
	return c.store.pointTotal()
}

// Flush hands every live aggregation record to each registered exporter.
// Failures are logged and discarded; the next cycle carries fresh data.
func (c *Collector) Flush() {
	records := c.store.snapshotAggregations()
	if len(records) == 0 {
		return
	}

	c.mu.Lock()
	exporters := make([]MetricsExporter, len(c.exporters))
	copy(exporters, c.exporters)
	c.mu.Unlock()

	for _, exp := range exporters {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ExportTimeout)
		errCh := make(chan error, 1)
		go func(exp MetricsExporter) {
			errCh <- exp.ExportMetrics(ctx, records)
		}(exp)

		select {
		case err := <-errCh:
			if err != nil {
				c.logger.Error("metrics flush failed", "records", len(records), "error", err)
			}
		case <-ctx.Done():
			c.logger.Error("metrics flush timed out", "records", len(records))
		}
		cancel()
	}
}

func (c *Collector) loop() {
	defer close(c.doneCh)

	flush := time.NewTicker(c.cfg.FlushInterval)
	defer flush.Stop()
	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-flush.C:
			c.Flush()
		case <-sweep.C:
			c.store.cleanup()
		}
	}
}
