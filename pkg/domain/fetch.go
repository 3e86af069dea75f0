package domain

import (
	"context"
	"time"
)

// DefaultTimeout is applied when a configuration leaves the fetch timeout unset.
const DefaultTimeout = 120 * time.Second

// FetchOptions are handed to the transport on every attempt. They are built once
// per configuration and never mutated afterwards.
type FetchOptions struct {
	// Timeout is a hint for the transport; the resolver does not enforce it.
	Timeout time.Duration
	// SendCredentials asks the transport to attach cookies and other ambient
	// credentials to the request.
	SendCredentials bool
}

// FetchRequest describes one fetch attempt. It is created per call and never persisted.
type FetchRequest struct {
	URL             string
	WrapperDepth    int
	PreviousURL     string // empty for the first document in a chain
	WrapperAd       any    // opaque reference to the wrapper that pointed here, may be nil
	MaxWrapperDepth int
	Observer        Observer // may be nil
}

// ResponseDetails carries the diagnostic fields a transport attaches to its result.
type ResponseDetails struct {
	ByteLength      int64
	RequestDuration time.Duration
	// Extra holds any additional transport-specific diagnostics.
	Extra map[string]any
}

// Fields flattens the details into a payload map.
func (d *ResponseDetails) Fields() map[string]any {
	if d == nil {
		return map[string]any{}
	}
	fields := make(map[string]any, len(d.Extra)+2)
	for k, v := range d.Extra {
		fields[k] = v
	}
	fields["byteLength"] = d.ByteLength
	fields["requestDuration"] = d.RequestDuration.Milliseconds()
	return fields
}

// TransportResult is what a transport reports for one GET. Ordinary HTTP and
// network failures travel in Err; a transport must not panic for them.
type TransportResult struct {
	Err        error
	StatusCode int // zero when no response was received
	Document   string
	Details    *ResponseDetails // nil when the transport had nothing to report
}

// Outcome settles a fetch attempt. Exactly one of Document or Err is meaningful.
type Outcome struct {
	Document string
	Err      error
}

// Transport performs the actual retrieval of a VAST document.
type Transport interface {
	Get(ctx context.Context, url string, opts FetchOptions) TransportResult
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, url string, opts FetchOptions) TransportResult

// Get calls f.
func (f TransportFunc) Get(ctx context.Context, url string, opts FetchOptions) TransportResult {
	return f(ctx, url, opts)
}

// BitrateEstimator tracks throughput across fetch attempts. A byteLength of zero
// means the attempt produced no usable sample.
type BitrateEstimator interface {
	Update(byteLength int64, duration time.Duration)
}

// Phase names the steps a fetch attempt moves through.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseFiltersApplied Phase = "filters_applied"
	PhaseResolving      Phase = "resolving"
	PhaseAwaiting       Phase = "awaiting"
	PhaseResolved       Phase = "resolved"
	PhaseSettled        Phase = "settled"
)
