package domain

import "time"

// ResolvingEvent is emitted synchronously right before the transport is called.
type ResolvingEvent struct {
	AttemptID       string
	URL             string // after filters
	PreviousURL     string
	WrapperDepth    int
	MaxWrapperDepth int
	Timeout         time.Duration
	WrapperAd       any
}

// Payload renders the event as the loosely typed map tracking callers expect.
func (e ResolvingEvent) Payload() map[string]any {
	return map[string]any{
		"url":             e.URL,
		"previousUrl":     nullableString(e.PreviousURL),
		"wrapperDepth":    e.WrapperDepth,
		"maxWrapperDepth": e.MaxWrapperDepth,
		"timeout":         e.Timeout.Milliseconds(),
		"wrapperAd":       e.WrapperAd,
	}
}

// ResolvedEvent is emitted once the transport returned, whatever the outcome.
type ResolvedEvent struct {
	AttemptID    string
	URL          string
	PreviousURL  string
	WrapperDepth int
	Err          error
	Duration     time.Duration
	StatusCode   int
	Details      *ResponseDetails
}

// Payload merges the transport details under the fixed fields. Fixed fields win
// when a detail uses the same key.
func (e ResolvedEvent) Payload() map[string]any {
	payload := e.Details.Fields()

	var errValue any
	if e.Err != nil {
		errValue = e.Err
	}
	var status any
	if e.StatusCode != 0 {
		status = e.StatusCode
	}

	payload["url"] = e.URL
	payload["previousUrl"] = nullableString(e.PreviousURL)
	payload["wrapperDepth"] = e.WrapperDepth
	payload["error"] = errValue
	payload["duration"] = e.Duration.Milliseconds()
	payload["statusCode"] = status
	return payload
}

// ByteLength reports the transport byte count, or zero when none was attached.
func (e ResolvedEvent) ByteLength() int64 {
	if e.Details == nil {
		return 0
	}
	return e.Details.ByteLength
}

// Observer receives the two lifecycle events of every fetch attempt. Calls are
// synchronous and must not block.
type Observer interface {
	OnResolving(ResolvingEvent)
	OnResolved(ResolvedEvent)
}

// ObserverFuncs adapts a pair of functions to Observer. Nil members are skipped.
type ObserverFuncs struct {
	Resolving func(ResolvingEvent)
	Resolved  func(ResolvedEvent)
}

func (o ObserverFuncs) OnResolving(e ResolvingEvent) {
	if o.Resolving != nil {
		o.Resolving(e)
	}
}

func (o ObserverFuncs) OnResolved(e ResolvedEvent) {
	if o.Resolved != nil {
		o.Resolved(e)
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
