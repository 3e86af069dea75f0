package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-vast/pkg/domain"
)

const tracerName = "polis-vast/resolver"

// Outcome classifies how a fetch attempt ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeInternal Outcome = "internal"
)

// Classify maps a fetch error to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrInternal):
		return OutcomeInternal
	case errors.Is(err, domain.ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

// StartFetchSpan opens the span covering one fetch attempt. url should already
// be redacted.
func StartFetchSpan(ctx context.Context, attemptID, url string, wrapperDepth int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "vast.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("vast.attempt_id", attemptID),
			attribute.String("url.full", url),
			attribute.Int("vast.wrapper_depth", wrapperDepth),
		),
	)
}

// EndFetchSpan records the resolved event on span and ends it.
func EndFetchSpan(span trace.Span, event domain.ResolvedEvent) {
	defer span.End()
	if !span.IsRecording() {
		return
	}

	outcome := Classify(event.Err)
	attrs := []attribute.KeyValue{
		attribute.String("vast.outcome", string(outcome)),
		attribute.Int64("vast.duration_ms", event.Duration.Milliseconds()),
	}
	if event.StatusCode != 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", event.StatusCode))
	}
	if n := event.ByteLength(); n > 0 {
		attrs = append(attrs, attribute.Int64("http.response.body.size", n))
	}
	span.SetAttributes(attrs...)

	if event.Err != nil {
		span.RecordError(event.Err)
		span.SetStatus(codes.Error, string(outcome))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RecordPanic marks span as failed because the attempt panicked.
func RecordPanic(span trace.Span, phase domain.Phase, cause any) {
	if !span.IsRecording() {
		return
	}
	span.AddEvent("vast.panic", trace.WithAttributes(
		attribute.String("vast.phase", string(phase)),
		attribute.String("vast.panic_value", fmt.Sprint(cause)),
	))
}

// TraceID returns the trace id of the span carried by ctx, or "".
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// SpanID returns the span id of the span carried by ctx, or "".
func SpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
