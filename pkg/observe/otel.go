package observe

import (
	"context"

	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/telemetry"
)

// OTelObserver records fetch metrics against the global OpenTelemetry meter provider.
type OTelObserver struct{}

func (OTelObserver) OnResolving(domain.ResolvingEvent) {}

func (OTelObserver) OnResolved(e domain.ResolvedEvent) {
	telemetry.RecordFetch(context.Background(), telemetry.FetchMetrics{
		WrapperDepth: e.WrapperDepth,
		Outcome:      telemetry.Classify(e.Err),
		StatusCode:   e.StatusCode,
		Duration:     e.Duration,
		ByteLength:   e.ByteLength(),
	})
}
