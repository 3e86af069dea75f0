// Package bitrate keeps a shared estimate of network throughput, fed by the
// size and latency of every VAST fetch.
package bitrate

import (
	"sync"
	"time"
)

// Average is a running mean of observed throughput in kbit/s. It is safe for
// concurrent use.
type Average struct {
	mu       sync.RWMutex
	estimate float64
	samples  int
}

// NewAverage returns an empty estimator.
func NewAverage() *Average {
	return &Average{}
}

// Update folds one attempt into the estimate. Attempts without a byte count or
// with a non-positive duration carry no throughput information and are skipped.
func (a *Average) Update(byteLength int64, duration time.Duration) {
	ms := float64(duration) / float64(time.Millisecond)
	if byteLength <= 0 || ms <= 0 {
		return
	}
	// bits per millisecond is kbit/s
	kbps := float64(byteLength*8) / ms

	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples++
	a.estimate += (kbps - a.estimate) / float64(a.samples)
}

// Estimate returns the current throughput estimate in kbit/s, zero before the
// first sample.
func (a *Average) Estimate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.estimate
}

// Samples returns how many updates contributed to the estimate.
func (a *Average) Samples() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.samples
}

// Reset discards every sample.
func (a *Average) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.estimate = 0
	a.samples = 0
}
