// Package transport provides the default network transport used by the
// resolver to retrieve VAST documents over HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-vast/pkg/domain"
)

const (
	defaultMaxBodyBytes = 10 << 20
	defaultUserAgent    = "polis-vast/1.0"
)

// HTTP retrieves VAST documents with net/http. Every outcome is reported via
// TransportResult; Get does not panic on network or protocol failures.
type HTTP struct {
	roundTripper http.RoundTripper
	jar          http.CookieJar
	maxBodyBytes int64
	userAgent    string
}

// HTTPOption customises an HTTP transport.
type HTTPOption func(*HTTP)

// WithRoundTripper replaces the base round tripper. It is still wrapped with
// OpenTelemetry instrumentation.
func WithRoundTripper(rt http.RoundTripper) HTTPOption {
	return func(h *HTTP) {
		if rt != nil {
			h.roundTripper = rt
		}
	}
}

// WithCookieJar sets the jar used for requests that send credentials.
func WithCookieJar(jar http.CookieJar) HTTPOption {
	return func(h *HTTP) {
		if jar != nil {
			h.jar = jar
		}
	}
}

// WithMaxBodyBytes bounds how much of a response body is read.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(h *HTTP) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) {
		if ua != "" {
			h.userAgent = ua
		}
	}
}

// NewHTTP constructs the default transport.
func NewHTTP(opts ...HTTPOption) *HTTP {
	jar, _ := cookiejar.New(nil)
	h := &HTTP{
		roundTripper: http.DefaultTransport,
		jar:          jar,
		maxBodyBytes: defaultMaxBodyBytes,
		userAgent:    defaultUserAgent,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.roundTripper = otelhttp.NewTransport(h.roundTripper)
	return h
}

// Get fetches url. opts.Timeout bounds the whole exchange including the body
// read; a deadline hit is reported as domain.ErrTimeout.
func (h *HTTP) Get(ctx context.Context, url string, opts domain.FetchOptions) domain.TransportResult {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.TransportResult{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.8")

	client := &http.Client{Transport: h.roundTripper}
	if opts.SendCredentials {
		client.Jar = h.jar
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return domain.TransportResult{Err: h.classify(ctx, url, timeout, err)}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, h.maxBodyBytes+1))
	details := &domain.ResponseDetails{
		ByteLength:      int64(len(body)),
		RequestDuration: time.Since(start),
		Extra: map[string]any{
			"contentType": resp.Header.Get("Content-Type"),
		},
	}

	result := domain.TransportResult{StatusCode: resp.StatusCode, Details: details}
	switch {
	case readErr != nil:
		result.Err = h.classify(ctx, url, timeout, fmt.Errorf("read body: %w", readErr))
	case int64(len(body)) > h.maxBodyBytes:
		details.ByteLength = h.maxBodyBytes
		result.Err = fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, url, h.maxBodyBytes)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		result.Err = &StatusError{URL: url, Code: resp.StatusCode}
	default:
		result.Document = string(body)
	}
	return result
}

func (h *HTTP) classify(ctx context.Context, url string, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: GET %s after %s", domain.ErrTimeout, url, timeout)
	}
	return fmt.Errorf("GET %s: %w", url, err)
}
