package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-vast/pkg/domain"
)

// Evaluator decides whether a URL may be fetched.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// Guard is a domain.Transport that consults a policy before delegating to the
// wrapped transport. Denials are reported through TransportResult.Err.
type Guard struct {
	evaluator Evaluator
	next      domain.Transport
	mode      Mode
	logger    *slog.Logger
}

// NewGuard wraps next with policy admission.
func NewGuard(evaluator Evaluator, next domain.Transport, mode Mode, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == "" {
		mode = ModeFailClosed
	}
	return &Guard{evaluator: evaluator, next: next, mode: mode, logger: logger}
}

// Get evaluates the policy for url and, when allowed, delegates to the wrapped transport.
func (g *Guard) Get(ctx context.Context, url string, opts domain.FetchOptions) domain.TransportResult {
	decision, err := g.evaluator.Evaluate(ctx, Input{
		URL:             url,
		TimeoutMS:       opts.Timeout.Milliseconds(),
		SendCredentials: opts.SendCredentials,
	})
	if err != nil {
		if g.mode == ModeFailOpen {
			g.logger.WarnContext(ctx, "URL policy evaluation failed, failing open", "error", err)
			return g.next.Get(ctx, url, opts)
		}
		return domain.TransportResult{Err: fmt.Errorf("evaluate URL policy: %w", err)}
	}

	if !decision.Allow {
		g.logger.InfoContext(ctx, "URL denied by policy", "reason", decision.Reason)
		return domain.TransportResult{Err: &DeniedError{URL: url, Reason: decision.Reason}}
	}

	return g.next.Get(ctx, url, opts)
}
