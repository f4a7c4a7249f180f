package observability

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, isFailure func(error) bool) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("pollinations", maxFailures, time.Second, isFailure)
	cb.now = clk.now
	return cb, clk
}

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, nil)

	assert.ErrorIs(t, cb.Call(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetFailures())

	assert.ErrorIs(t, cb.Call(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.False(t, called, "open breaker must not invoke fn")
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, nil)
	_ = cb.Call(func() error { return errBoom })
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, 0, cb.GetFailures())
	_ = cb.Call(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	cb, _ := newTestBreaker(1, func(err error) bool { return err != nil && !errors.Is(err, domain.ErrInvalidArgument) })
	err := cb.Call(func() error { return domain.ErrInvalidArgument })
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	cb, clk := newTestBreaker(1, nil)
	_ = cb.Call(func() error { return errBoom })
	require.Equal(t, StateOpen, cb.GetState())

	clk.advance(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Call(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	cb, clk := newTestBreaker(1, nil)
	_ = cb.Call(func() error { return errBoom })
	clk.advance(2 * time.Second)

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	_ = cb.Call(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	cb, clk := newTestBreaker(1, nil)
	_ = cb.Call(func() error { return errBoom })
	clk.advance(time.Second)

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Call(func() error { <-release; return nil })
		}()
	}
	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return cb.inFlight == 3
	}, time.Second, time.Millisecond)

	err := cb.Call(func() error { return nil })
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, nil)
	_ = cb.Call(func() error { return errBoom })
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetFailures())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("mistral", 1000, time.Second, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Call(func() error {
				if i%2 == 0 {
					return errBoom
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerManager(t *testing.T) {
	m := NewCircuitBreakerManager(1, time.Minute, nil)
	a := m.For("bfl")
	assert.Same(t, a, m.For("bfl"))
	assert.NotSame(t, a, m.For("replicate"))
	assert.Equal(t, "bfl", a.Name())

	_ = a.Call(func() error { return errBoom })
	assert.Equal(t, map[string]string{"bfl": "open", "replicate": "closed"}, m.States())

	m.ResetAll()
	assert.Equal(t, StateClosed, a.GetState())
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitBreakerState(9).String())
}
