package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all Voxdesk spans.
const tracerName = "github.com/voxdesk/voxdesk"

// StartSpan opens a span on the globally registered tracer provider. The
// caller must End the returned span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the active trace ID, or "" when ctx carries no
// recording span. The trace ID is the correlation identifier Voxdesk exposes
// to clients in the X-Correlation-ID response header, so a support ticket
// quoting the header can be matched directly to a trace.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// TraceLogger returns the default logger enriched with the trace and span
// IDs from ctx, so log lines written deep inside a request join up with its
// trace. Without an active span it returns the default logger unchanged.
func TraceLogger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
