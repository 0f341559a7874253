package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxscribe/pkg/stream"
)

const tracerName = "github.com/MrWong99/voxscribe"

// StartSpan starts a span on the voxscribe tracer of the global provider.
// The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithTrace returns l enriched with trace_id and span_id when ctx carries an
// active span.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// StartTranscribe starts the voxscribe.transcribe span covering one
// transcription cycle. Finish it with [EndTranscribe].
func StartTranscribe(ctx context.Context, language string, sampleRate int) (context.Context, trace.Span) {
	return StartSpan(ctx, "voxscribe.transcribe", trace.WithAttributes(
		attribute.String("language", language),
		attribute.Int("sample_rate", sampleRate),
	))
}

// EndTranscribe records the outcome of the cycle on span and ends it. The
// span is marked failed whenever err is set, including archive failures
// after a clean close.
func EndTranscribe(span trace.Span, res stream.Result, err error) {
	span.SetAttributes(
		attribute.String("state", res.State.String()),
		attribute.Int("transcript_bytes", len(res.Transcript)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Message())
	}
	span.End()
}
