// Package tracer implements span capture and distributed trace assembly.
//
// The Engine owns individual span lifecycles (start, mutate, finish). The
// Tracer builds multi-span traces on top of it: parent/child linkage, baggage
// propagation across process boundaries, per-trace buffering, and export to
// registered sinks. Callers hold only lightweight TraceContext handles; all
// span state lives inside the engine until the span finishes and is handed
// to the export path.
package tracer

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// SpanStatus is the terminal disposition of a span.
type SpanStatus string

const (
	StatusOK        SpanStatus = "ok"
	StatusError     SpanStatus = "error"
	StatusTimeout   SpanStatus = "timeout"
	StatusCancelled SpanStatus = "cancelled"
)

// ReferenceType describes how a span relates to another span.
type ReferenceType string

const (
	RefChildOf     ReferenceType = "child_of"
	RefFollowsFrom ReferenceType = "follows_from"
)

// TraceContext is the caller-held handle for an in-flight span.
//
// It is a value: callers pass it into nested operations, but mutation of the
// underlying span happens only through the engine's API so that concurrent
// writers to the same span are serialized. A context with an empty SpanID is
// a no-op handle (the span was sampled out); every engine operation on it is
// silently ignored.
type TraceContext struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	CorrelationID string
	OperationName string
	StartTime     time.Time
	Attributes    map[string]string
	Baggage       map[string]string
}

// Sampled reports whether the context refers to a recorded span.
func (c TraceContext) Sampled() bool {
	return c.SpanID != ""
}

// SpanLog is one timestamped set of fields attached to a span.
type SpanLog struct {
	Timestamp time.Time
	Fields    map[string]string
}

// SpanReference links a span to a related span.
type SpanReference struct {
	Type    ReferenceType
	TraceID string
	SpanID  string
}

// Process identifies the service instance that produced a span.
type Process struct {
	ServiceName    string
	ServiceVersion string
	Hostname       string
	Environment    string
}

// Span is the engine-owned record for one unit of work.
//
// A span is mutable while open. Once finished it is removed from the active
// table and handed to the export path; it is not retrievable afterward.
type Span struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	CorrelationID string
	OperationName string
	Status        SpanStatus
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	Tags          map[string]string
	Logs          []SpanLog
	References    []SpanReference
	Process       Process
}

// Finished reports whether the span has an end time.
func (s *Span) Finished() bool {
	return !s.EndTime.IsZero()
}

// SamplingRule overrides the default sampling rate for matching operations.
// Empty Service or Operation matches anything; the first matching rule wins.
type SamplingRule struct {
	Service   string
	Operation string
	Rate      float64
}

// Config controls span capture and trace assembly.
type Config struct {
	// Process identity, stamped on every span.
	ServiceName    string
	ServiceVersion string
	Environment    string
	Hostname       string

	// SamplingRate is the default probability of recording a span (0..1).
	SamplingRate float64

	// SamplingRules are checked before SamplingRate; first match wins.
	SamplingRules []SamplingRule

	// MaxSpansPerTrace forces export of a trace that accumulates more spans
	// than this, guarding against traces that never close.
	MaxSpansPerTrace int

	// MaxTraceAge is the staleness threshold: traces whose oldest span is
	// older than this are force-exported by the sweep.
	MaxTraceAge time.Duration

	// SweepInterval is how often the staleness sweep runs.
	SweepInterval time.Duration

	// ExportTimeout bounds each exporter call during trace export.
	ExportTimeout time.Duration
}

// DefaultConfig returns tracing defaults for the given service.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:      serviceName,
		ServiceVersion:   "dev",
		Environment:      "development",
		SamplingRate:     1.0,
		MaxSpansPerTrace: 100,
		MaxTraceAge:      5 * time.Minute,
		SweepInterval:    time.Minute,
		ExportTimeout:    5 * time.Second,
	}
}

// newTraceID returns a 128-bit trace id as 32 hex characters.
func newTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// newSpanID returns a 64-bit span id as 16 hex characters.
func newSpanID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}

func newCorrelationID() string {
	return uuid.NewString()
}
