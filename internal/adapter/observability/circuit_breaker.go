package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means requests are allowed.
	StateClosed CircuitBreakerState = iota
	// StateOpen means requests are rejected until the open period elapses.
	StateOpen
	// StateHalfOpen means a limited number of trial requests are allowed.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards calls to one upstream provider. The lock is held only
// while checking and updating state, never during the call itself.
type CircuitBreaker struct {
	name        string
	maxFailures int
	openFor     time.Duration
	halfOpenMax int
	// isFailure decides which call errors count against the breaker.
	isFailure func(error) bool
	now       func() time.Time

	mu           sync.Mutex
	state        CircuitBreakerState
	failures     int
	openedAt     time.Time
	inFlight     int
	successCount int
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive failures and retries again after openFor. Every non-nil error
// counts as a failure unless isFailure is given.
func NewCircuitBreaker(name string, maxFailures int, openFor time.Duration, isFailure func(error) bool) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		openFor:     openFor,
		halfOpenMax: 3,
		isFailure:   isFailure,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Name returns the provider the breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Call executes fn with circuit breaker protection. A rejected call returns
// an error wrapping domain.ErrUnavailable without invoking fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn()
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.openFor {
		cb.setState(StateHalfOpen)
		cb.successCount = 0
		cb.inFlight = 0
	}
	switch cb.state {
	case StateOpen:
		return fmt.Errorf("%w: circuit breaker %s is open", domain.ErrUnavailable, cb.name)
	case StateHalfOpen:
		if cb.inFlight >= cb.halfOpenMax {
			return fmt.Errorf("%w: circuit breaker %s is half-open", domain.ErrUnavailable, cb.name)
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := cb.isFailure(err)
	switch cb.state {
	case StateHalfOpen:
		cb.inFlight--
		if failed {
			cb.trip()
			return
		}
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.failures = 0
			cb.successCount = 0
			cb.setState(StateClosed)
		}
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.inFlight = 0
	cb.setState(StateOpen)
}

func (cb *CircuitBreaker) setState(s CircuitBreakerState) {
	cb.state = s
	RecordCircuitBreakerStatus(cb.name, s)
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetFailures returns the consecutive failure count.
func (cb *CircuitBreaker) GetFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset returns the breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successCount = 0
	cb.inFlight = 0
	cb.setState(StateClosed)
}

// CircuitBreakerManager hands out one breaker per provider.
type CircuitBreakerManager struct {
	maxFailures int
	openFor     time.Duration
	isFailure   func(error) bool

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates a manager whose breakers share settings.
func NewCircuitBreakerManager(maxFailures int, openFor time.Duration, isFailure func(error) bool) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		maxFailures: maxFailures,
		openFor:     openFor,
		isFailure:   isFailure,
		breakers:    make(map[string]*CircuitBreaker),
	}
}

// For returns the breaker for provider, creating it on first use.
func (m *CircuitBreakerManager) For(provider string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[provider]; ok {
		return cb
	}
	cb := NewCircuitBreaker(provider, m.maxFailures, m.openFor, m.isFailure)
	m.breakers[provider] = cb
	RecordCircuitBreakerStatus(provider, StateClosed)
	return cb
}

// States snapshots every known breaker state by provider.
func (m *CircuitBreakerManager) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.GetState().String()
	}
	return out
}

// ResetAll closes every breaker.
func (m *CircuitBreakerManager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cb := range m.breakers {
		cb.Reset()
	}
}
