package tracer

import (
	"testing"
	"time"
)

func bufSpan(traceID, spanID string, start time.Time) *Span {
	return &Span{TraceID: traceID, SpanID: spanID, StartTime: start}
}

func TestTraceBuffer_CompleteTrace(t *testing.T) {
	b := newTraceBuffer()
	now := time.Now()

	b.openSpan("t1", now)
	b.openSpan("t1", now.Add(time.Millisecond))

	spans, complete := b.finishSpan(bufSpan("t1", "s2", now.Add(time.Millisecond)), 100)
	if complete {
		t.Fatal("trace complete with one span still open")
	}
	if spans != nil {
		t.Fatal("incomplete trace returned spans")
	}

	spans, complete = b.finishSpan(bufSpan("t1", "s1", now), 100)
	if !complete {
		t.Fatal("trace not complete after all spans finished")
	}
	if len(spans) != 2 {
		t.Fatalf("len(spans) = %d, want 2", len(spans))
	}
	if b.size() != 0 {
		t.Errorf("size() = %d, want 0 after completion", b.size())
	}
}

func TestTraceBuffer_SpanCeiling(t *testing.T) {
	b := newTraceBuffer()
	now := time.Now()

	for i := 0; i < 5; i++ {
		b.openSpan("t1", now)
	}

	var spans []*Span
	var complete bool
	for i := 0; i < 3; i++ {
		spans, complete = b.finishSpan(bufSpan("t1", "s", now), 3)
	}
	if !complete {
		t.Fatal("trace not force-completed at span ceiling")
	}
	if len(spans) != 3 {
		t.Errorf("len(spans) = %d, want 3", len(spans))
	}
	if b.size() != 0 {
		t.Errorf("size() = %d, want 0 after forced completion", b.size())
	}
}

func TestTraceBuffer_UntrackedFinish(t *testing.T) {
	b := newTraceBuffer()

	spans, complete := b.finishSpan(bufSpan("t1", "s1", time.Now()), 100)
	if !complete {
		t.Fatal("untracked finish should complete as a single-span trace")
	}
	if len(spans) != 1 {
		t.Errorf("len(spans) = %d, want 1", len(spans))
	}
}

func TestTraceBuffer_TakeStale(t *testing.T) {
	b := newTraceBuffer()
	old := time.Now().Add(-time.Hour)

	b.openSpan("stale", old)
	b.openSpan("stale", old)
	b.finishSpan(bufSpan("stale", "s1", old), 100) // one span still open

	b.openSpan("fresh", time.Now())

	stale := b.takeStale(10 * time.Minute)
	if len(stale) != 1 {
		t.Fatalf("len(stale) = %d, want 1", len(stale))
	}
	if _, ok := stale["stale"]; !ok {
		t.Error("stale trace not returned")
	}
	if b.size() != 1 {
		t.Errorf("size() = %d, want 1 (fresh trace remains)", b.size())
	}
}

func TestTraceBuffer_TakeAll(t *testing.T) {
	b := newTraceBuffer()
	now := time.Now()

	b.openSpan("t1", now)
	b.openSpan("t1", now)
	b.finishSpan(bufSpan("t1", "s1", now), 100)

	b.openSpan("t2", now)

	all := b.takeAll()
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if len(all["t1"]) != 1 {
		t.Errorf("len(all[t1]) = %d, want 1", len(all["t1"]))
	}
	if b.size() != 0 {
		t.Errorf("size() = %d, want 0 after takeAll", b.size())
	}
}
