package metrics

import (
	"sort"
	"sync"
	"time"
)

func sortAggregated(aggs []AggregatedMetric) {
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].WindowStart.Equal(aggs[j].WindowStart) {
			return aggs[i].Window < aggs[j].Window
		}
		return aggs[i].WindowStart.Before(aggs[j].WindowStart)
	})
}

// seriesStore owns all in-memory metric state: raw series, histograms, and
// live aggregation records. One mutex guards the three maps; the hot path
// does map updates only, never I/O.
type seriesStore struct {
	cfg Config

	mu           sync.Mutex
	series       map[string]*TimeSeries
	histograms   map[string]*Histogram
	aggregations map[aggKey]*AggregatedMetric

	totalPoints uint64
}

type aggKey struct {
	series      string
	window      time.Duration
	windowStart int64 // unix ms
}

func newSeriesStore(cfg Config) *seriesStore {
	return &seriesStore{
		cfg:          cfg,
		series:       make(map[string]*TimeSeries),
		histograms:   make(map[string]*Histogram),
		aggregations: make(map[aggKey]*AggregatedMetric),
	}
}

// record appends one observation, applying gauge coalescing, updating every
// aggregation window, and enforcing retention for the touched series.
func (s *seriesStore) record(name string, tags map[string]string, typ MetricType, value float64, buckets []float64) {
	key := canonicalKey(name, tags)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.series[key]
	if !ok {
		series = &TimeSeries{Name: name, Tags: tags, Type: typ}
		s.series[key] = series
	}

	coalesced := false
	if typ == TypeGauge && len(series.Points) > 0 {
		last := &series.Points[len(series.Points)-1]
		if now.Sub(last.Timestamp) < s.cfg.GaugeCoalesce {
			last.Value = value
			last.Timestamp = now
			coalesced = true
		}
	}
	if !coalesced {
		series.Points = append(series.Points, MetricPoint{Timestamp: now, Value: value})
		s.totalPoints++
	}

	if typ == TypeHistogram {
		s.observeHistogramLocked(key, name, tags, value, buckets)
	}

	s.updateAggregationsLocked(key, name, tags, value, now)
	s.pruneSeriesLocked(key, now)

	if s.cfg.MaxSeries > 0 && len(s.series) > s.cfg.MaxSeries {
		s.cleanupLocked(now)
	}
}

func (s *seriesStore) observeHistogramLocked(key, name string, tags map[string]string, value float64, buckets []float64) {
	hist, ok := s.histograms[key]
	if !ok {
		bounds := buckets
		if len(bounds) == 0 {
			bounds = DefaultBuckets
		}
		hist = &Histogram{
			Name:   name,
			Tags:   tags,
			Bounds: append([]float64(nil), bounds...),
			Counts: make([]uint64, len(bounds)),
			Min:    value,
			Max:    value,
		}
		s.histograms[key] = hist
	}

	// Cumulative buckets: the value counts toward every bucket whose upper
	// bound is >= the value.
	for i, bound := range hist.Bounds {
		if value <= bound {
			hist.Counts[i]++
		}
	}
	hist.Sum += value
	hist.Count++
	if value < hist.Min {
		hist.Min = value
	}
	if value > hist.Max {
		hist.Max = value
	}
}

func (s *seriesStore) updateAggregationsLocked(key, name string, tags map[string]string, value float64, now time.Time) {
	for _, window := range s.cfg.AggregationWindows {
		start := now.Truncate(window)
		k := aggKey{series: key, window: window, windowStart: start.UnixMilli()}

		agg, ok := s.aggregations[k]
		if !ok {
			agg = &AggregatedMetric{
				Name:        name,
				Tags:        tags,
				Window:      window,
				WindowStart: start,
				Min:         value,
				Max:         value,
			}
			s.aggregations[k] = agg
		}

		agg.Count++
		agg.Sum += value
		if value < agg.Min {
			agg.Min = value
		}
		if value > agg.Max {
			agg.Max = value
		}
		// Avg and rate are recomputed from sum/count every time rather than
		// drifted incrementally.
		agg.Avg = agg.Sum / float64(agg.Count)
		agg.Rate = float64(agg.Count) / window.Seconds()
	}
}

func (s *seriesStore) pruneSeriesLocked(key string, now time.Time) {
	series, ok := s.series[key]
	if !ok {
		return
	}
	cutoff := now.Add(-s.cfg.RetentionRaw)
	idx := 0
	for idx < len(series.Points) && series.Points[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		series.Points = series.Points[idx:]
	}
	if len(series.Points) == 0 {
		delete(s.series, key)
		delete(s.histograms, key)
	}
}

// cleanupLocked enforces retention across every series and drops aggregation
// records past their retention horizon.
func (s *seriesStore) cleanupLocked(now time.Time) {
	for key := range s.series {
		s.pruneSeriesLocked(key, now)
	}

	factor := s.cfg.AggregationRetentionFactor
	if factor <= 0 {
		factor = 10
	}
	for k, agg := range s.aggregations {
		if now.Sub(agg.WindowStart) > time.Duration(factor)*agg.Window {
			delete(s.aggregations, k)
		}
	}
}

func (s *seriesStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked(time.Now())
}

// valuesMatching returns raw points within [since, until] from every series
// of the metric whose tag set contains filter. A nil filter matches every
// series of the name; zero time bounds are open-ended.
func (s *seriesStore) valuesMatching(name string, filter map[string]string, since, until time.Time) []MetricPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	var points []MetricPoint
	for _, series := range s.series {
		if series.Name != name || !tagsContain(series.Tags, filter) {
			continue
		}
		for _, p := range series.Points {
			if !since.IsZero() && p.Timestamp.Before(since) {
				continue
			}
			if !until.IsZero() && p.Timestamp.After(until) {
				continue
			}
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

// tagsContain reports whether tags is a superset of filter.
func tagsContain(tags, filter map[string]string) bool {
	for k, v := range filter {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// aggregatedFor returns copies of the live aggregation records for the key
// and window, oldest first.
func (s *seriesStore) aggregatedFor(key string, window time.Duration) []AggregatedMetric {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AggregatedMetric
	for k, agg := range s.aggregations {
		if k.series == key && k.window == window {
			out = append(out, *agg)
		}
	}
	sortAggregated(out)
	return out
}

// snapshotAggregations copies every live aggregation record for flushing.
func (s *seriesStore) snapshotAggregations() []AggregatedMetric {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AggregatedMetric, 0, len(s.aggregations))
	for _, agg := range s.aggregations {
		out = append(out, *agg)
	}
	sortAggregated(out)
	return out
}

func (s *seriesStore) histogram(key string) (Histogram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist, ok := s.histograms[key]
	if !ok {
		return Histogram{}, false
	}
	snap := *hist
	snap.Bounds = append([]float64(nil), hist.Bounds...)
	snap.Counts = append([]uint64(nil), hist.Counts...)
	return snap, true
}

func (s *seriesStore) seriesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

func (s *seriesStore) pointTotal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPoints
}
