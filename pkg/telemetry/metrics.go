package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce        sync.Once
	metricsInitErr     error
	fetchCounter       metric.Int64Counter
	fetchTimeoutCount  metric.Int64Counter
	fetchLatency       metric.Float64Histogram
	fetchResponseBytes metric.Int64Histogram
)

// FetchMetrics captures the fields needed to record fetch telemetry metrics.
type FetchMetrics struct {
	WrapperDepth int
	Outcome      Outcome
	StatusCode   int
	Duration     time.Duration
	ByteLength   int64
}

// RecordFetch emits counters and histograms that describe one fetch attempt.
func RecordFetch(ctx context.Context, m FetchMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("vast.outcome", string(m.Outcome)),
		attribute.Int("vast.wrapper_depth", m.WrapperDepth),
	}
	if m.StatusCode != 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", m.StatusCode))
	}

	fetchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		fetchLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.ByteLength > 0 {
		fetchResponseBytes.Record(ctx, m.ByteLength, metric.WithAttributes(attrs...))
	}

	if m.Outcome == OutcomeTimeout {
		fetchTimeoutCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("polis-vast.resolver")

		fetchCounter, metricsInitErr = meter.Int64Counter(
			"vast.fetch.attempts_total",
			metric.WithDescription("VAST fetch attempts partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		fetchTimeoutCount, metricsInitErr = meter.Int64Counter(
			"vast.fetch.timeouts_total",
			metric.WithDescription("VAST fetch attempts the transport reported as timed out"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		fetchLatency, metricsInitErr = meter.Float64Histogram(
			"vast.fetch.duration_ms",
			metric.WithDescription("Observed VAST fetch latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		fetchResponseBytes, metricsInitErr = meter.Int64Histogram(
			"vast.fetch.response_bytes",
			metric.WithDescription("Size of fetched VAST documents"),
			metric.WithUnit("By"),
		)
	})

	return metricsInitErr
}
