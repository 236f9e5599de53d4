package tracer

import (
	"strings"
)

// Header names used for cross-process context propagation. The W3C-style
// traceparent header is authoritative; the x- headers are a legacy fallback
// accepted on ingestion and always emitted on egress.
const (
	HeaderTraceParent   = "traceparent"
	HeaderBaggage       = "baggage"
	HeaderTraceID       = "x-trace-id"
	HeaderSpanID        = "x-span-id"
	HeaderCorrelationID = "x-correlation-id"
)

const traceParentVersion = "00"

// InjectHeaders serializes a trace context into carrier headers:
// "00-<32 hex traceId>-<16 hex spanId>-01" plus a comma-joined baggage
// string and the legacy custom headers.
func InjectHeaders(ctx TraceContext) map[string]string {
	if !ctx.Sampled() {
		return map[string]string{}
	}

	headers := map[string]string{
		HeaderTraceParent:   traceParentVersion + "-" + ctx.TraceID + "-" + ctx.SpanID + "-01",
		HeaderTraceID:       ctx.TraceID,
		HeaderSpanID:        ctx.SpanID,
		HeaderCorrelationID: ctx.CorrelationID,
	}

	if len(ctx.Baggage) > 0 {
		pairs := make([]string, 0, len(ctx.Baggage))
		for k, v := range ctx.Baggage {
			pairs = append(pairs, k+"="+v)
		}
		headers[HeaderBaggage] = strings.Join(pairs, ",")
	}

	return headers
}

// ExtractContext parses propagation headers back into a trace context.
// It tries the traceparent header first and falls back to the legacy
// x- headers. It returns nil if no valid trace identifiers are present;
// the caller must then start a fresh root trace.
func ExtractContext(headers map[string]string) *TraceContext {
	traceID, spanID := parseTraceParent(headerValue(headers, HeaderTraceParent))
	if traceID == "" {
		traceID = headerValue(headers, HeaderTraceID)
		spanID = headerValue(headers, HeaderSpanID)
	}
	if traceID == "" || spanID == "" {
		return nil
	}

	ctx := &TraceContext{
		TraceID:       traceID,
		SpanID:        spanID,
		CorrelationID: headerValue(headers, HeaderCorrelationID),
		Attributes:    make(map[string]string),
		Baggage:       parseBaggage(headerValue(headers, HeaderBaggage)),
	}
	return ctx
}

func parseTraceParent(value string) (traceID, spanID string) {
	if value == "" {
		return "", ""
	}
	parts := strings.Split(value, "-")
	if len(parts) != 4 {
		return "", ""
	}
	if len(parts[1]) != 32 || len(parts[2]) != 16 {
		return "", ""
	}
	if !isHex(parts[1]) || !isHex(parts[2]) {
		return "", ""
	}
	return parts[1], parts[2]
}

func parseBaggage(value string) map[string]string {
	baggage := make(map[string]string)
	if value == "" {
		return baggage
	}
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		baggage[k] = v
	}
	return baggage
}

// headerValue looks a key up case-insensitively; carriers normalize header
// casing differently (HTTP canonicalizes, message buses do not).
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
