// Package policy integrates the Open Policy Agent (OPA) engine with the VAST
// resolver, evaluating Rego policies that decide whether an ad-tag URL may be
// fetched at all.
//
// Policies are enforced as a transport decorator so a denied URL surfaces the
// same way as any other transport-reported failure: paired lifecycle events, a
// bitrate update with no data, and the denial as the fetch error.
package policy
