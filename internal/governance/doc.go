// Package governance protects ad servers and the resolver from each other with
// per-host circuit breaking and rate limiting. Both controls are applied as
// domain.Transport decorators and report rejections as transport errors.
package governance
