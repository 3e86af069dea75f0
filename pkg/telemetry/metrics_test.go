package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectMetrics(t *testing.T, ctx context.Context, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func installReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()
	return reader
}

func TestRecordFetch(t *testing.T) {
	ctx := context.Background()
	reader := installReader(t)

	RecordFetch(ctx, FetchMetrics{
		WrapperDepth: 2,
		Outcome:      OutcomeTimeout,
		Duration:     150 * time.Millisecond,
		ByteLength:   2048,
	})

	metrics := collectMetrics(t, ctx, reader)

	attempts, ok := metrics["vast.fetch.attempts_total"]
	if !ok {
		t.Fatalf("missing vast.fetch.attempts_total metric")
	}
	attemptData, ok := attempts.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for attempts metric")
	}
	if len(attemptData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(attemptData.DataPoints))
	}
	if attemptData.DataPoints[0].Value != 1 {
		t.Fatalf("expected attempt count 1, got %d", attemptData.DataPoints[0].Value)
	}
	if value, ok := attemptData.DataPoints[0].Attributes.Value(attribute.Key("vast.outcome")); !ok || value.AsString() != "timeout" {
		t.Fatalf("expected vast.outcome attribute to be timeout, got %v", value)
	}

	timeouts, ok := metrics["vast.fetch.timeouts_total"]
	if !ok {
		t.Fatalf("missing vast.fetch.timeouts_total metric")
	}
	if timeouts.Data.(metricdata.Sum[int64]).DataPoints[0].Value != 1 {
		t.Fatalf("expected timeout count 1")
	}

	latency, ok := metrics["vast.fetch.duration_ms"]
	if !ok {
		t.Fatalf("missing vast.fetch.duration_ms metric")
	}
	latencyData := latency.Data.(metricdata.Histogram[float64])
	if latencyData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", latencyData.DataPoints[0].Count)
	}
	if latencyData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", latencyData.DataPoints[0].Sum)
	}

	size, ok := metrics["vast.fetch.response_bytes"]
	if !ok {
		t.Fatalf("missing vast.fetch.response_bytes metric")
	}
	if size.Data.(metricdata.Histogram[int64]).DataPoints[0].Sum != 2048 {
		t.Fatalf("expected response bytes sum 2048")
	}
}

func TestRecordFetchSkipsEmptyHistograms(t *testing.T) {
	ctx := context.Background()
	reader := installReader(t)

	RecordFetch(ctx, FetchMetrics{Outcome: OutcomeSuccess})

	metrics := collectMetrics(t, ctx, reader)
	if _, ok := metrics["vast.fetch.attempts_total"]; !ok {
		t.Fatalf("missing vast.fetch.attempts_total metric")
	}
	if _, ok := metrics["vast.fetch.duration_ms"]; ok {
		t.Fatalf("duration histogram should not record zero durations")
	}
	if _, ok := metrics["vast.fetch.response_bytes"]; ok {
		t.Fatalf("response bytes histogram should not record empty bodies")
	}
}
