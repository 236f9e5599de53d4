package pipeline

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/instantcocoa/pulse/metrics"
)

const defaultSampleInterval = 15 * time.Second

// systemSampler periodically records Go runtime gauges on the collector,
// giving the alerting engine something to evaluate even before the host
// application records its own metrics.
type systemSampler struct {
	collector *metrics.Collector
	interval  time.Duration
	logger    *slog.Logger

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
}

func newSystemSampler(collector *metrics.Collector, interval time.Duration, logger *slog.Logger) *systemSampler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &systemSampler{
		collector: collector,
		interval:  interval,
		logger:    logger.With("component", "system_sampler"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (s *systemSampler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop()
}

func (s *systemSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.doneCh
	}
}

func (s *systemSampler) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ticker.C:
			s.sample()
		case <-s.stopCh:
			return
		}
	}
}

func (s *systemSampler) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s.collector.RecordGauge("runtime.goroutines", float64(runtime.NumGoroutine()), nil)
	s.collector.RecordGauge("runtime.mem.heap_alloc_bytes", float64(ms.HeapAlloc), nil)
	s.collector.RecordGauge("runtime.mem.heap_inuse_bytes", float64(ms.HeapInuse), nil)
	s.collector.RecordGauge("runtime.mem.stack_inuse_bytes", float64(ms.StackInuse), nil)
	s.collector.RecordGauge("runtime.gc.num", float64(ms.NumGC), nil)
	s.collector.RecordGauge("runtime.gc.pause_total_ms", float64(ms.PauseTotalNs)/1e6, nil)
}
