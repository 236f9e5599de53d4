package tracer

import (
	"sync"
	"time"
)

// traceBuffer accumulates finished spans per trace id until the trace
// completes (every started span has finished) or overflows its span ceiling.
type traceBuffer struct {
	mu     sync.Mutex
	traces map[string]*traceEntry
}

type traceEntry struct {
	firstStart time.Time
	open       int
	spans      []*Span
}

func newTraceBuffer() *traceBuffer {
	return &traceBuffer{traces: make(map[string]*traceEntry)}
}

// openSpan records that a span has started for the given trace.
func (b *traceBuffer) openSpan(traceID string, start time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.traces[traceID]
	if !ok {
		entry = &traceEntry{firstStart: start}
		b.traces[traceID] = entry
	}
	if start.Before(entry.firstStart) {
		entry.firstStart = start
	}
	entry.open++
}

// finishSpan buffers a finished span. It returns the trace's spans and true
// once the trace is complete or has exceeded maxSpans, removing the entry.
func (b *traceBuffer) finishSpan(span *Span, maxSpans int) ([]*Span, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.traces[span.TraceID]
	if !ok {
		// Span finished without a tracked start (engine used directly);
		// treat it as a single-span trace.
		entry = &traceEntry{firstStart: span.StartTime}
		b.traces[span.TraceID] = entry
	}
	entry.spans = append(entry.spans, span)
	if entry.open > 0 {
		entry.open--
	}

	if entry.open == 0 || (maxSpans > 0 && len(entry.spans) >= maxSpans) {
		delete(b.traces, span.TraceID)
		return entry.spans, true
	}
	return nil, false
}

// takeStale removes and returns the spans of every trace whose oldest span
// is older than maxAge, keyed by trace id.
func (b *traceBuffer) takeStale(maxAge time.Duration) map[string][]*Span {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var stale map[string][]*Span
	for id, entry := range b.traces {
		if entry.firstStart.After(cutoff) {
			continue
		}
		if stale == nil {
			stale = make(map[string][]*Span)
		}
		stale[id] = entry.spans
		delete(b.traces, id)
	}
	return stale
}

// takeAll drains the buffer, returning every pending trace.
func (b *traceBuffer) takeAll() map[string][]*Span {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := make(map[string][]*Span, len(b.traces))
	for id, entry := range b.traces {
		all[id] = entry.spans
	}
	b.traces = make(map[string]*traceEntry)
	return all
}

func (b *traceBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.traces)
}
