// Package observe provides domain.Observer implementations: fan-out, structured
// logging, Prometheus and OpenTelemetry metrics.
package observe

import "github.com/polisai/polis-vast/pkg/domain"

type multi []domain.Observer

// Multi fans events out to every non-nil observer in order. Nested fan-outs are
// flattened.
func Multi(observers ...domain.Observer) domain.Observer {
	out := make(multi, 0, len(observers))
	for _, o := range observers {
		switch typed := o.(type) {
		case nil:
		case multi:
			out = append(out, typed...)
		default:
			out = append(out, o)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) OnResolving(e domain.ResolvingEvent) {
	for _, o := range m {
		o.OnResolving(e)
	}
}

func (m multi) OnResolved(e domain.ResolvedEvent) {
	for _, o := range m {
		o.OnResolved(e)
	}
}
