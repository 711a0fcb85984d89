package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every notescribe span.
const tracerName = "github.com/MrWong99/notescribe"

// Tracer returns the notescribe tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span as a child of whatever span ctx carries. The caller
// ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID carried by ctx, or "" outside a trace.
// HTTP responses echo it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// Fail marks span as failed with err and returns err. A nil err leaves the
// span untouched.
func Fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Stage is one timed step of the audio pipeline: a child span plus a latency
// sample recorded when it ends.
type Stage struct {
	ctx   context.Context
	span  trace.Span
	hist  metric.Float64Histogram
	start time.Time
}

// BeginStage starts a span named name. [Stage.End] records the elapsed
// seconds into hist, which may be nil.
func BeginStage(ctx context.Context, name string, hist metric.Float64Histogram, attrs ...attribute.KeyValue) (context.Context, *Stage) {
	ctx, span := StartSpan(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Stage{ctx: ctx, span: span, hist: hist, start: time.Now()}
}

// Elapsed is the time since the stage began.
func (s *Stage) Elapsed() time.Duration { return time.Since(s.start) }

// End records the latency, marks the span failed when err is non-nil and ends
// it. It returns err unchanged.
func (s *Stage) End(err error) error {
	if s.hist != nil {
		s.hist.Record(s.ctx, s.Elapsed().Seconds())
	}
	Fail(s.span, err)
	s.span.End()
	return err
}
