package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/telemetry"
)

type countingObserver struct {
	resolving int
	resolved  int
	order     *[]string
	name      string
}

func (c *countingObserver) OnResolving(domain.ResolvingEvent) {
	c.resolving++
	if c.order != nil {
		*c.order = append(*c.order, c.name)
	}
}

func (c *countingObserver) OnResolved(domain.ResolvedEvent) { c.resolved++ }

func TestMultiFansOutInOrder(t *testing.T) {
	var order []string
	a := &countingObserver{name: "a", order: &order}
	b := &countingObserver{name: "b", order: &order}
	c := &countingObserver{name: "c", order: &order}

	obs := Multi(a, nil, Multi(b, c))
	obs.OnResolving(domain.ResolvingEvent{})
	obs.OnResolved(domain.ResolvedEvent{})

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 1, c.resolved)
}

func TestMultiSingleAndEmpty(t *testing.T) {
	a := &countingObserver{}
	assert.Same(t, a, Multi(nil, a))

	empty := Multi()
	require.NotPanics(t, func() {
		empty.OnResolving(domain.ResolvingEvent{})
		empty.OnResolved(domain.ResolvedEvent{})
	})
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLogObserver(logger, telemetry.RedactQuery)

	obs.OnResolving(domain.ResolvingEvent{AttemptID: "a1", URL: "https://ads.example.com/v?uid=42"})
	obs.OnResolved(domain.ResolvedEvent{
		AttemptID:  "a1",
		URL:        "https://ads.example.com/v?uid=42",
		Err:        errors.New("boom"),
		StatusCode: 500,
	})

	out := buf.String()
	assert.Contains(t, out, `"msg":"Resolving VAST document"`)
	assert.Contains(t, out, `"msg":"VAST fetch failed"`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"status_code":500`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.NotContains(t, out, "uid=42")
}

func TestLogObserverInternalErrorsLogAtError(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(slog.New(slog.NewJSONHandler(&buf, nil)), "")

	obs.OnResolved(domain.ResolvedEvent{Err: &domain.InternalError{Phase: domain.PhaseAwaiting, Cause: "x"}})
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"outcome":"internal"`)
}

type fixedBitrate float64

func (f fixedBitrate) Estimate() float64 { return float64(f) }

func TestPrometheusMetricsObserver(t *testing.T) {
	m := NewMetrics(fixedBitrate(1500))

	m.OnResolving(domain.ResolvingEvent{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchesPending))

	m.OnResolved(domain.ResolvedEvent{
		StatusCode: 200,
		Duration:   20 * time.Millisecond,
		Details:    &domain.ResponseDetails{ByteLength: 512},
	})
	m.OnResolving(domain.ResolvingEvent{})
	m.OnResolved(domain.ResolvedEvent{Err: errors.New("boom"), StatusCode: 500})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.fetchesPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchesTotal.WithLabelValues("success", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchesTotal.WithLabelValues("error", "500")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var bitrate float64
	for _, mf := range families {
		if mf.GetName() == "vast_estimated_bitrate_kbps" {
			bitrate = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1500.0, bitrate)
}

func TestPrometheusMiddlewareAndHandler(t *testing.T) {
	m := NewMetrics(nil)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "resolve", "418")))

	m.RecordConfigReload("success")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configReloads.WithLabelValues("success")))

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "vast_http_requests_total")
}

func TestOTelObserverRecordsFetch(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	telemetry.ResetMetricsForTest()
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		telemetry.ResetMetricsForTest()
	})

	var obs OTelObserver
	obs.OnResolving(domain.ResolvingEvent{})
	obs.OnResolved(domain.ResolvedEvent{Duration: 5 * time.Millisecond})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name == "vast.fetch.attempts_total" {
				found = true
			}
		}
	}
	assert.True(t, found)
}
