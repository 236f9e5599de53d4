package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	apitrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/instantcocoa/pulse/tracer"

// OTLPExporter ships finished spans to an OTLP/gRPC collector endpoint.
//
// Spans are converted into OpenTelemetry span snapshots; trace and span ids
// survive the conversion unchanged so the collector sees the same identifiers
// that were propagated over the wire.
type OTLPExporter struct {
	exp   *otlptrace.Exporter
	res   *sdkresource.Resource
	scope instrumentation.Scope
}

// NewOTLPExporter connects to an OTLP/gRPC endpoint such as "localhost:4317".
func NewOTLPExporter(ctx context.Context, endpoint string, insecure bool, proc Process) (*OTLPExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	res := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(proc.ServiceName),
		semconv.ServiceVersionKey.String(proc.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(proc.Environment),
		semconv.HostNameKey.String(proc.Hostname),
	)

	return &OTLPExporter{
		exp:   exp,
		res:   res,
		scope: instrumentation.Scope{Name: instrumentationName},
	}, nil
}

func (e *OTLPExporter) ExportSpans(ctx context.Context, spans []*Span) error {
	snapshots := make([]sdktrace.ReadOnlySpan, 0, len(spans))
	for _, span := range spans {
		stub, ok := e.convert(span)
		if !ok {
			continue
		}
		snapshots = append(snapshots, stub.Snapshot())
	}
	if len(snapshots) == 0 {
		return nil
	}
	return e.exp.ExportSpans(ctx, snapshots)
}

// Shutdown flushes and closes the underlying gRPC connection.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	return e.exp.Shutdown(ctx)
}

func (e *OTLPExporter) convert(span *Span) (tracetest.SpanStub, bool) {
	traceID, err := apitrace.TraceIDFromHex(span.TraceID)
	if err != nil {
		return tracetest.SpanStub{}, false
	}
	spanID, err := apitrace.SpanIDFromHex(span.SpanID)
	if err != nil {
		return tracetest.SpanStub{}, false
	}

	stub := tracetest.SpanStub{
		Name: span.OperationName,
		SpanContext: apitrace.NewSpanContext(apitrace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: apitrace.FlagsSampled,
		}),
		SpanKind:             apitrace.SpanKindInternal,
		StartTime:            span.StartTime,
		EndTime:              span.EndTime,
		Attributes:           tagAttributes(span.Tags),
		Status:               convertStatus(span.Status),
		Resource:             e.res,
		InstrumentationLibrary: e.scope,
	}

	if span.ParentSpanID != "" {
		if parentID, err := apitrace.SpanIDFromHex(span.ParentSpanID); err == nil {
			stub.Parent = apitrace.NewSpanContext(apitrace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     parentID,
				TraceFlags: apitrace.FlagsSampled,
			})
		}
	}

	for _, record := range span.Logs {
		name := record.Fields["event"]
		if name == "" {
			name = "log"
		}
		attrs := make([]attribute.KeyValue, 0, len(record.Fields))
		for k, v := range record.Fields {
			if k == "event" {
				continue
			}
			attrs = append(attrs, attribute.String(k, v))
		}
		stub.Events = append(stub.Events, sdktrace.Event{
			Name:       name,
			Time:       record.Timestamp,
			Attributes: attrs,
		})
	}

	return stub, true
}

func tagAttributes(tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func convertStatus(status SpanStatus) sdktrace.Status {
	switch status {
	case StatusOK:
		return sdktrace.Status{Code: codes.Ok}
	case "":
		return sdktrace.Status{Code: codes.Unset}
	default:
		return sdktrace.Status{Code: codes.Error, Description: string(status)}
	}
}

var _ SpanExporter = (*OTLPExporter)(nil)
