package observe

import (
	"context"
	"log/slog"

	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/telemetry"
)

// LogObserver writes one structured line per lifecycle event.
type LogObserver struct {
	logger    *slog.Logger
	redaction string
}

// NewLogObserver creates a log observer. redaction is a telemetry.RedactURL strategy.
func NewLogObserver(logger *slog.Logger, redaction string) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger, redaction: redaction}
}

func (o *LogObserver) OnResolving(e domain.ResolvingEvent) {
	o.logger.LogAttrs(context.Background(), slog.LevelDebug, "Resolving VAST document",
		slog.String("attempt_id", e.AttemptID),
		slog.String("url", telemetry.RedactURL(e.URL, o.redaction)),
		slog.Int("wrapper_depth", e.WrapperDepth),
		slog.Int("max_wrapper_depth", e.MaxWrapperDepth),
		slog.Duration("timeout", e.Timeout),
	)
}

func (o *LogObserver) OnResolved(e domain.ResolvedEvent) {
	attrs := []slog.Attr{
		slog.String("attempt_id", e.AttemptID),
		slog.String("url", telemetry.RedactURL(e.URL, o.redaction)),
		slog.Int("wrapper_depth", e.WrapperDepth),
		slog.Duration("duration", e.Duration),
		slog.Int64("byte_length", e.ByteLength()),
	}
	if e.PreviousURL != "" {
		attrs = append(attrs, slog.String("previous_url", telemetry.RedactURL(e.PreviousURL, o.redaction)))
	}
	if e.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status_code", e.StatusCode))
	}

	if e.Err == nil {
		o.logger.LogAttrs(context.Background(), slog.LevelInfo, "VAST document resolved", attrs...)
		return
	}

	attrs = append(attrs,
		slog.String("error", e.Err.Error()),
		slog.String("outcome", string(telemetry.Classify(e.Err))),
	)
	level := slog.LevelWarn
	if telemetry.Classify(e.Err) == telemetry.OutcomeInternal {
		level = slog.LevelError
	}
	o.logger.LogAttrs(context.Background(), level, "VAST fetch failed", attrs...)
}
