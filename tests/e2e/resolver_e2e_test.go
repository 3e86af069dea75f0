package e2e

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-vast/internal/governance"
	"github.com/polisai/polis-vast/pkg/bitrate"
	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/filter"
	"github.com/polisai/polis-vast/pkg/policy"
	"github.com/polisai/polis-vast/pkg/resolver"
	"github.com/polisai/polis-vast/pkg/telemetry"
	"github.com/polisai/polis-vast/pkg/transport"
)

const adPolicy = `package vast

default decision := {"allow": true}

decision := {"allow": false, "reason": "tracking pixel host"} if {
	endswith(input.path, ".gif")
}
`

func TestResolver_ExportsFetchSpans(t *testing.T) {
	collector, endpoint := startTraceCollector(t)

	ctx := context.Background()
	shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "polis-vast-e2e",
		Endpoint:    endpoint,
		Insecure:    true,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var traceparent, gdpr string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		traceparent = r.Header.Get("Traceparent")
		gdpr = r.URL.Query().Get("gdpr")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<VAST version="4.0"/>`)
	}))
	t.Cleanup(upstream.Close)

	engine, err := policy.NewEngine(ctx, policy.EngineOptions{Modules: map[string]string{"vast.rego": adPolicy}})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := governance.Protect(transport.NewHTTP(), governance.NewCircuitBreakerManager(governance.DefaultCircuitBreakerConfig()), nil, logger)
	estimator := bitrate.NewAverage()

	r := resolver.New(resolver.Config{
		DefaultTransport: policy.NewGuard(engine, base, policy.ModeFailClosed, logger),
		Filters:          filter.New(filter.SetQueryParam("gdpr", "1")),
		Bitrate:          estimator,
		Logger:           logger,
		URLRedaction:     telemetry.RedactQuery,
	})

	doc, err := r.Fetch(ctx, domain.FetchRequest{URL: upstream.URL + "/tag?secret=abc", MaxWrapperDepth: 5})
	require.NoError(t, err)
	assert.Equal(t, `<VAST version="4.0"/>`, doc)
	assert.Equal(t, 1, estimator.Samples())

	_, err = r.Fetch(ctx, domain.FetchRequest{URL: upstream.URL + "/pixel.gif", WrapperDepth: 1})
	require.ErrorIs(t, err, policy.ErrDenied)

	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, shutdown(flushCtx))

	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()
	span := collector.waitForSpan(waitCtx, "vast.fetch")
	require.NotNil(t, span, "fetch span was not exported")

	assert.NotContains(t, stringAttr(span, "url.full"), "secret", "query string is redacted")
	assert.NotEmpty(t, stringAttr(span, "vast.attempt_id"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "1", gdpr)
	require.NotEmpty(t, traceparent, "trace context is propagated upstream")
	assert.True(t, collectorHasTrace(collector, traceparent), "upstream request joined an exported trace")
}

// collectorHasTrace reports whether any exported span belongs to the trace in
// the traceparent header.
func collectorHasTrace(c *traceCollector, traceparent string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, span := range c.spans {
		if strings.Contains(traceparent, hex.EncodeToString(span.GetTraceId())) {
			return true
		}
	}
	return false
}
