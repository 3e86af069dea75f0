package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/polisai/polis-vast/internal/governance"
	"github.com/polisai/polis-vast/pkg/bitrate"
	"github.com/polisai/polis-vast/pkg/config"
	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/filter"
	"github.com/polisai/polis-vast/pkg/observe"
	"github.com/polisai/polis-vast/pkg/policy"
	"github.com/polisai/polis-vast/pkg/resolver"
	"github.com/polisai/polis-vast/pkg/transport"
)

// runtimeDeps are shared across config reloads.
type runtimeDeps struct {
	logger  *slog.Logger
	bitrate *bitrate.Average
	metrics *observe.Metrics
}

// buildTransport assembles the HTTP transport, then layers the optional per-host
// protections and the URL policy guard on top.
func buildTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Transport, error) {
	opts := []transport.HTTPOption{
		transport.WithMaxBodyBytes(cfg.Transport.MaxBodyBytes),
		transport.WithUserAgent(cfg.Transport.UserAgent),
	}

	if cfg.Transport.TrustBundle != nil {
		pool, err := cfg.Transport.TrustBundle.RootCAs(cfg.Dir())
		if err != nil {
			return nil, err
		}
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return nil, fmt.Errorf("default transport is %T, cannot apply trust bundle", http.DefaultTransport)
		}
		rt := base.Clone()
		rt.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		opts = append(opts, transport.WithRoundTripper(rt))
	}

	var t domain.Transport = transport.NewHTTP(opts...)

	if cb, rl := cfg.Transport.CircuitBreaker, cfg.Transport.RateLimit; cb != nil || rl != nil {
		var breakers *governance.CircuitBreakerManager
		if cb != nil {
			breakers = governance.NewCircuitBreakerManager(governance.CircuitBreakerConfig{
				MaxFailures:      cb.MaxFailures,
				OpenTimeout:      time.Duration(cb.OpenTimeoutMS) * time.Millisecond,
				HalfOpenRequests: cb.HalfOpenRequests,
			})
		}
		var limiter *governance.RateLimiter
		if rl != nil {
			limiter = governance.NewRateLimiter(governance.RateLimiterConfig{
				RequestsPerSecond: rl.RequestsPerSecond,
				BurstSize:         rl.Burst,
			})
		}
		t = governance.Protect(t, breakers, limiter, logger)
	}

	if !cfg.Policy.Enabled() {
		return t, nil
	}

	modules, err := cfg.LoadPolicyModules()
	if err != nil {
		return nil, err
	}
	engine, err := policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint: cfg.Policy.Entrypoint,
		Modules:    modules,
	})
	if err != nil {
		return nil, fmt.Errorf("build policy engine: %w", err)
	}
	mode, err := policy.ParseMode(cfg.Policy.Mode)
	if err != nil {
		return nil, err
	}
	return policy.NewGuard(engine, t, mode, logger), nil
}

// buildResolver wires a resolver for cfg.
func buildResolver(ctx context.Context, cfg *config.Config, deps runtimeDeps) (*resolver.Resolver, error) {
	t, err := buildTransport(ctx, cfg, deps.logger)
	if err != nil {
		return nil, err
	}

	chain, err := filter.Build(cfg.Filters)
	if err != nil {
		return nil, err
	}

	observers := []domain.Observer{
		observe.NewLogObserver(deps.logger, cfg.Resolver.URLRedaction),
		observe.OTelObserver{},
	}
	if deps.metrics != nil {
		observers = append(observers, deps.metrics)
	}

	var estimator domain.BitrateEstimator
	if deps.bitrate != nil {
		estimator = deps.bitrate
	}

	r := resolver.New(resolver.Config{
		DefaultTransport: t,
		Filters:          chain,
		Bitrate:          estimator,
		Observer:         observe.Multi(observers...),
		Logger:           deps.logger,
		URLRedaction:     cfg.Resolver.URLRedaction,
	})
	r.Configure(resolver.Options{
		Timeout:         cfg.Resolver.Timeout(),
		SendCredentials: cfg.Resolver.SendCredentials,
	})
	return r, nil
}
