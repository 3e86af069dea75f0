// Package e2e exercises the resolver end to end against real HTTP and OTLP
// endpoints running in-process.
package e2e

import (
	"context"
	"net"
	"sync"
	"testing"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
)

// traceCollector is a minimal OTLP gRPC trace endpoint that keeps every span.
type traceCollector struct {
	collectortrace.UnimplementedTraceServiceServer

	mu     sync.Mutex
	spans  []*tracepb.Span
	notify chan struct{}
}

func startTraceCollector(t *testing.T) (*traceCollector, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start OTLP listener: %v", err)
	}

	collector := &traceCollector{notify: make(chan struct{}, 1)}
	server := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(server, collector)

	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	return collector, lis.Addr().String()
}

func (c *traceCollector) Export(_ context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	c.mu.Lock()
	for _, rs := range req.GetResourceSpans() {
		for _, scope := range rs.GetScopeSpans() {
			c.spans = append(c.spans, scope.GetSpans()...)
		}
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// waitForSpan blocks until a span called name arrives or ctx ends.
func (c *traceCollector) waitForSpan(ctx context.Context, name string) *tracepb.Span {
	for {
		c.mu.Lock()
		for _, span := range c.spans {
			if span.GetName() == name {
				c.mu.Unlock()
				return span
			}
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-c.notify:
		}
	}
}

func stringAttr(span *tracepb.Span, key string) string {
	for _, kv := range span.GetAttributes() {
		if kv.GetKey() == key {
			return kv.GetValue().GetStringValue()
		}
	}
	return ""
}
