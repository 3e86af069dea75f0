package resolver

import (
	"math"
	"reflect"
	"time"

	"github.com/polisai/polis-vast/pkg/domain"
)

// Options is the configuration bag accepted by Configure.
type Options struct {
	// Transport performs the retrieval. Nil selects the resolver's default transport.
	Transport domain.Transport
	// Timeout is passed to the transport. Zero or negative selects domain.DefaultTimeout.
	Timeout time.Duration
	// SendCredentials is coerced by truthiness: nil and zero values are false,
	// anything else is true.
	SendCredentials any
}

func buildFetchOptions(opts Options) domain.FetchOptions {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}
	return domain.FetchOptions{
		Timeout:         timeout,
		SendCredentials: truthy(opts.SendCredentials),
	}
}

func truthy(v any) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != ""
	case float64:
		return typed != 0 && !math.IsNaN(typed)
	case float32:
		return typed != 0 && !math.IsNaN(float64(typed))
	}
	return !reflect.ValueOf(v).IsZero()
}
