// Package domain defines the core types and collaborator contracts for resolving
// a single VAST document.
//
// This package has ZERO dependencies outside the Go standard library. It holds:
//
// - Request, options and outcome types shared by the resolver and transports
// - The Transport, BitrateEstimator and Observer interfaces the resolver consumes
// - The two lifecycle event shapes (resolving, resolved)
// - Sentinel and typed errors
//
// Infrastructure packages (transport, bitrate, observe, policy, telemetry)
// implement the interfaces defined here. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
