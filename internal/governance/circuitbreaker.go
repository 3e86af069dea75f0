package governance

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxHosts bounds how many hosts a manager or limiter tracks at once.
const DefaultMaxHosts = 10_000

// ErrCircuitOpen is returned when the circuit breaker for a host is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed CircuitBreakerState = "closed"
	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen indicates the circuit is probing whether the host recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig defines thresholds for circuit breaking.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probe requests allowed while half-open.
	// That many consecutive successes close the circuit again.
	HalfOpenRequests int
	// MaxHosts caps the breakers a CircuitBreakerManager keeps. The least
	// recently used closed breaker is evicted first.
	MaxHosts int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

func (c CircuitBreakerConfig) normalized() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if c.MaxFailures <= 0 {
		c.MaxFailures = def.MaxFailures
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = def.HalfOpenRequests
	}
	if c.MaxHosts <= 0 {
		c.MaxHosts = DefaultMaxHosts
	}
	return c
}

// CircuitBreaker tracks the health of a single ad server.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig
	now    func() time.Time

	state                CircuitBreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	openUntil            time.Time

	lastUsed atomic.Uint64
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config.normalized(),
		now:    time.Now,
		state:  StateClosed,
	}
}

// Allow reports whether a request may proceed. Every allowed request must be
// followed by exactly one Record or Release call.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.openUntil) {
			return ErrCircuitOpen
		}
		cb.transitionLocked(StateHalfOpen)
		cb.halfOpenInFlight++
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

// Record reports the outcome of an allowed request.
func (cb *CircuitBreaker) Record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
	} else {
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
	}

	switch cb.state {
	case StateHalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		if failed {
			cb.transitionLocked(StateOpen)
		} else if cb.consecutiveSuccesses >= cb.config.HalfOpenRequests {
			cb.transitionLocked(StateClosed)
		}
	case StateClosed:
		if failed && cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.transitionLocked(StateOpen)
		}
	}
}

// Release gives back the slot taken by Allow without recording an outcome.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

func (cb *CircuitBreaker) transitionLocked(state CircuitBreakerState) {
	if cb.state == state {
		return
	}
	cb.state = state
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	if state == StateOpen {
		cb.openUntil = cb.now().Add(cb.config.OpenTimeout)
	} else {
		cb.openUntil = time.Time{}
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}

// CircuitBreakerManager hands out one breaker per host.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
	clock    atomic.Uint64
}

// NewCircuitBreakerManager creates a manager whose breakers share config.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		config:   config.normalized(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get retrieves the circuit breaker for host, creating one if needed.
func (m *CircuitBreakerManager) Get(host string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[host]
	m.mu.RUnlock()
	if ok {
		cb.lastUsed.Store(m.clock.Add(1))
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[host]; ok {
		cb.lastUsed.Store(m.clock.Add(1))
		return cb
	}
	if len(m.breakers) >= m.config.MaxHosts {
		m.evictLocked()
	}
	cb = NewCircuitBreaker(m.config)
	cb.lastUsed.Store(m.clock.Add(1))
	m.breakers[host] = cb
	return cb
}

// evictLocked drops the least recently used breaker, preferring closed ones so
// tripped hosts keep their state.
func (m *CircuitBreakerManager) evictLocked() {
	var victim string
	var victimUsed uint64
	victimClosed := false
	for host, cb := range m.breakers {
		used := cb.lastUsed.Load()
		closed := cb.State() == StateClosed
		switch {
		case victim == "",
			closed && !victimClosed,
			closed == victimClosed && used < victimUsed:
			victim, victimUsed, victimClosed = host, used, closed
		}
	}
	delete(m.breakers, victim)
}

// Len reports how many hosts are tracked.
func (m *CircuitBreakerManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.breakers)
}

// States returns the state of every known breaker keyed by host.
func (m *CircuitBreakerManager) States() map[string]CircuitBreakerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]CircuitBreakerState, len(m.breakers))
	for host, cb := range m.breakers {
		states[host] = cb.State()
	}
	return states
}
