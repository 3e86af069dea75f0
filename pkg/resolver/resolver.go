// Package resolver orchestrates a single VAST fetch attempt: it rewrites the
// URL through the filter chain, announces the attempt, delegates to the
// transport, reports timing and size, feeds the bitrate estimator and settles
// the result.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/filter"
	"github.com/polisai/polis-vast/pkg/observe"
	"github.com/polisai/polis-vast/pkg/telemetry"
	"github.com/polisai/polis-vast/pkg/transport"
)

// Config holds the collaborators fixed for the lifetime of a Resolver.
type Config struct {
	// DefaultTransport is used whenever Configure is called without one.
	// Nil selects transport.NewHTTP().
	DefaultTransport domain.Transport
	// Filters is shared with callers that want to register filters later.
	// Nil creates an empty chain.
	Filters *filter.Chain
	// Bitrate receives one update per attempt that reached the transport. May be nil.
	Bitrate domain.BitrateEstimator
	// Observer is notified of every attempt in addition to the per-request observer.
	Observer domain.Observer
	Logger   *slog.Logger
	// URLRedaction is the telemetry.RedactURL strategy for spans and logs.
	URLRedaction string
}

// Resolver fetches VAST documents. Configure may be called at any time; the
// filter chain must be populated before fetches run concurrently.
type Resolver struct {
	defaultTransport domain.Transport
	filters          *filter.Chain
	bitrate          domain.BitrateEstimator
	observer         domain.Observer
	logger           *slog.Logger
	redaction        string

	mu        sync.RWMutex
	transport domain.Transport
	options   domain.FetchOptions
}

// New constructs a Resolver configured with default options.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	def := cfg.DefaultTransport
	if def == nil {
		def = transport.NewHTTP()
	}
	filters := cfg.Filters
	if filters == nil {
		filters = filter.New()
	}

	r := &Resolver{
		defaultTransport: def,
		filters:          filters,
		bitrate:          cfg.Bitrate,
		observer:         cfg.Observer,
		logger:           logger,
		redaction:        cfg.URLRedaction,
	}
	r.Configure(Options{})
	return r
}

// Configure replaces the transport and fetch options wholesale. Nothing from a
// previous call is merged.
func (r *Resolver) Configure(opts Options) {
	t := opts.Transport
	if t == nil {
		t = r.defaultTransport
	}
	fetchOpts := buildFetchOptions(opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = t
	r.options = fetchOpts
}

// FetchOptions returns the options handed to the transport on every attempt.
func (r *Resolver) FetchOptions() domain.FetchOptions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.options
}

// Filters exposes the URL filter chain.
func (r *Resolver) Filters() *filter.Chain {
	return r.filters
}

// Fetch runs one attempt and returns the raw document text, or the error the
// transport reported, unwrapped. A panic from the transport, an observer or the
// bitrate estimator is recovered and returned as *domain.InternalError. A panic
// from a filter is not recovered and reaches the caller before any event fires.
func (r *Resolver) Fetch(ctx context.Context, req domain.FetchRequest) (document string, err error) {
	start := time.Now()
	url := r.filters.Apply(req.URL)

	r.mu.RLock()
	t, opts := r.transport, r.options
	r.mu.RUnlock()

	a := &attempt{
		id:       uuid.NewString(),
		phase:    domain.PhaseFiltersApplied,
		url:      url,
		req:      req,
		start:    start,
		observer: observe.Multi(r.observer, req.Observer),
	}

	ctx, a.span = telemetry.StartFetchSpan(ctx, a.id, telemetry.RedactURL(url, r.redaction), req.WrapperDepth)
	defer func() {
		if rec := recover(); rec != nil {
			document, err = "", r.recoverAttempt(ctx, a, rec)
		}
	}()

	a.phase = domain.PhaseResolving
	a.observer.OnResolving(domain.ResolvingEvent{
		AttemptID:       a.id,
		URL:             url,
		PreviousURL:     req.PreviousURL,
		WrapperDepth:    req.WrapperDepth,
		MaxWrapperDepth: req.MaxWrapperDepth,
		Timeout:         opts.Timeout,
		WrapperAd:       req.WrapperAd,
	})

	a.phase = domain.PhaseAwaiting
	result := t.Get(ctx, url, opts)

	duration := time.Since(start).Round(time.Millisecond)
	event := a.resolvedEvent(result.Err, duration, result.StatusCode, result.Details)

	a.phase = domain.PhaseResolved
	a.observer.OnResolved(event)
	a.endSpan(event)

	if r.bitrate != nil {
		r.bitrate.Update(event.ByteLength(), duration)
	}

	a.phase = domain.PhaseSettled
	if result.Err != nil {
		return "", result.Err
	}
	return result.Document, nil
}

// FetchAsync runs Fetch on its own goroutine. The returned channel always
// receives exactly one Outcome and is then closed; a panicking filter is
// reported as *domain.InternalError instead of crashing the goroutine.
func (r *Resolver) FetchAsync(ctx context.Context, req domain.FetchRequest) <-chan domain.Outcome {
	ch := make(chan domain.Outcome, 1)
	go func() {
		defer close(ch)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.ErrorContext(ctx, "VAST URL filter panicked",
					slog.String("url", telemetry.RedactURL(req.URL, r.redaction)),
					slog.Any("panic", rec),
				)
				ch <- domain.Outcome{Err: &domain.InternalError{Phase: domain.PhaseIdle, Cause: rec}}
			}
		}()
		doc, err := r.Fetch(ctx, req)
		ch <- domain.Outcome{Document: doc, Err: err}
	}()
	return ch
}

// recoverAttempt turns a panic into an internal error. When the transport was
// the one panicking, the resolved event still fires so events stay paired.
func (r *Resolver) recoverAttempt(ctx context.Context, a *attempt, rec any) error {
	internal := &domain.InternalError{Phase: a.phase, Cause: rec}

	attrs := []slog.Attr{
		slog.String("attempt_id", a.id),
		slog.String("url", telemetry.RedactURL(a.url, r.redaction)),
		slog.Int("wrapper_depth", a.req.WrapperDepth),
		slog.String("phase", string(a.phase)),
		slog.String("panic", fmt.Sprint(rec)),
	}
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	r.logger.LogAttrs(ctx, slog.LevelError, "VAST fetch panicked", attrs...)
	telemetry.RecordPanic(a.span, a.phase, rec)

	event := a.resolvedEvent(internal, time.Since(a.start).Round(time.Millisecond), 0, nil)
	if a.phase == domain.PhaseAwaiting {
		a.phase = domain.PhaseResolved
		r.emitResolvedSafely(ctx, a, event)
	}
	a.endSpan(event)
	a.phase = domain.PhaseSettled
	return internal
}

func (r *Resolver) emitResolvedSafely(ctx context.Context, a *attempt, event domain.ResolvedEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.LogAttrs(ctx, slog.LevelError, "VAST resolved observer panicked",
				slog.String("attempt_id", a.id),
				slog.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	a.observer.OnResolved(event)
}

// attempt tracks one Fetch call through its phases.
type attempt struct {
	id       string
	phase    domain.Phase
	url      string
	req      domain.FetchRequest
	start    time.Time
	observer domain.Observer
	span     trace.Span
	spanDone bool
}

func (a *attempt) resolvedEvent(err error, duration time.Duration, status int, details *domain.ResponseDetails) domain.ResolvedEvent {
	return domain.ResolvedEvent{
		AttemptID:    a.id,
		URL:          a.url,
		PreviousURL:  a.req.PreviousURL,
		WrapperDepth: a.req.WrapperDepth,
		Err:          err,
		Duration:     duration,
		StatusCode:   status,
		Details:      details,
	}
}

func (a *attempt) endSpan(event domain.ResolvedEvent) {
	if a.spanDone {
		return
	}
	a.spanDone = true
	telemetry.EndFetchSpan(a.span, event)
}
