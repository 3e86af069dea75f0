package governance

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a host exceeded its request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiterConfig defines the per-host token bucket.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// MaxHosts caps the buckets kept. Full buckets are dropped first, then the
	// least recently used.
	MaxHosts int
}

// RateLimiter implements token bucket rate limiting per host.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimiterConfig
	buckets map[string]*tokenBucket
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter. A non-positive rate disables limiting.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = max(1, int(config.RequestsPerSecond))
	}
	if config.MaxHosts <= 0 {
		config.MaxHosts = DefaultMaxHosts
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

// Enabled reports whether the limiter restricts anything.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.config.RequestsPerSecond > 0
}

// Allow consumes one token for host and reports whether one was available.
func (rl *RateLimiter) Allow(host string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[host]
	if !ok {
		if len(rl.buckets) >= rl.config.MaxHosts {
			rl.evictLocked(now)
		}
		bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[host] = bucket
	}
	return bucket.take(now, rl.config.RequestsPerSecond, float64(rl.config.BurstSize))
}

// evictLocked drops every bucket that has refilled completely, which is
// indistinguishable from a fresh one. When none has, the bucket idle the
// longest goes.
func (rl *RateLimiter) evictLocked(now time.Time) {
	capacity := float64(rl.config.BurstSize)
	var oldest string
	var oldestRefill time.Time
	for host, bucket := range rl.buckets {
		if bucket.tokens+now.Sub(bucket.lastRefill).Seconds()*rl.config.RequestsPerSecond >= capacity {
			delete(rl.buckets, host)
			continue
		}
		if oldest == "" || bucket.lastRefill.Before(oldestRefill) {
			oldest, oldestRefill = host, bucket.lastRefill
		}
	}
	if len(rl.buckets) >= rl.config.MaxHosts && oldest != "" {
		delete(rl.buckets, oldest)
	}
}

// Len reports how many hosts are tracked.
func (rl *RateLimiter) Len() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// tokenBucket is guarded by the owning RateLimiter.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

func (tb *tokenBucket) take(now time.Time, rate, capacity float64) bool {
	if elapsed := now.Sub(tb.lastRefill).Seconds(); elapsed > 0 {
		tb.tokens = min(capacity, tb.tokens+elapsed*rate)
		tb.lastRefill = now
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
