package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/transport"
)

// Protected is a domain.Transport that rate limits and circuit-breaks requests
// per ad-server host before delegating to the wrapped transport.
type Protected struct {
	next     domain.Transport
	breakers *CircuitBreakerManager
	limiter  *RateLimiter
	logger   *slog.Logger
}

// Protect wraps next. Either control may be nil to disable it.
func Protect(next domain.Transport, breakers *CircuitBreakerManager, limiter *RateLimiter, logger *slog.Logger) *Protected {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protected{next: next, breakers: breakers, limiter: limiter, logger: logger}
}

// Get applies the controls for the host of rawURL.
func (p *Protected) Get(ctx context.Context, rawURL string, opts domain.FetchOptions) domain.TransportResult {
	host := hostOf(rawURL)

	if !p.limiter.Allow(host) {
		return domain.TransportResult{Err: fmt.Errorf("%w: %s", ErrRateLimited, host)}
	}

	if p.breakers == nil {
		return p.next.Get(ctx, rawURL, opts)
	}

	cb := p.breakers.Get(host)
	if err := cb.Allow(); err != nil {
		return domain.TransportResult{Err: fmt.Errorf("%w: %s", err, host)}
	}

	before := cb.State()
	result := p.call(ctx, cb, rawURL, opts)
	if after := cb.State(); after != before {
		p.logger.WarnContext(ctx, "Ad server circuit state changed", "host", host, "from", before, "to", after)
	}
	return result
}

// call delegates to the wrapped transport and settles the breaker slot taken by
// Allow exactly once. A panicking delegate counts as a failure and the panic is
// re-raised. An attempt abandoned by the caller says nothing about the host.
func (p *Protected) call(ctx context.Context, cb *CircuitBreaker, rawURL string, opts domain.FetchOptions) domain.TransportResult {
	settled := false
	defer func() {
		if !settled {
			cb.Record(true)
		}
	}()

	result := p.next.Get(ctx, rawURL, opts)
	settled = true

	if ctx.Err() != nil {
		cb.Release()
		return result
	}
	cb.Record(isUpstreamFailure(result))
	return result
}

// isUpstreamFailure counts network errors, timeouts and 5xx responses against
// the host. Client errors and oversized bodies do not indicate an unhealthy host.
func isUpstreamFailure(result domain.TransportResult) bool {
	if result.Err == nil {
		return false
	}
	var statusErr *transport.StatusError
	if errors.As(result.Err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}
	return !errors.Is(result.Err, transport.ErrBodyTooLarge)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
