// Package telemetry wires OpenTelemetry exporters and meters for the VAST
// resolver.
//
// It centralises trace provider setup, opens one span per fetch attempt,
// records fetch counters and latency histograms, and offers URL redaction so
// ad-tag query strings (which routinely carry device and user identifiers)
// do not leak into exported spans.
package telemetry
