package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

var fastBackoff = BackoffConfig{
	MaxElapsedTime:  500 * time.Millisecond,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	Multiplier:      2,
}

func getBuilder(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestDoWithRetry_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Options{Provider: "pollinations", Timeout: time.Second, Backoff: fastBackoff})
	resp, err := c.DoWithRetry(context.Background(), "image", getBuilder(srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoWithRetry_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"bad prompt"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Options{Provider: "pollinations", Timeout: time.Second, Backoff: fastBackoff})
	resp, err := c.DoWithRetry(context.Background(), "image", getBuilder(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	ue := ReadError("pollinations", "image", resp)
	assert.Equal(t, "bad prompt", ue.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoWithRetry_ExhaustedReturnsLastResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"overloaded"}`))
	}))
	defer srv.Close()

	c := New(Options{Provider: "replicate", Timeout: time.Second, Backoff: BackoffConfig{
		MaxElapsedTime: 20 * time.Millisecond, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2,
	}})
	resp, err := c.DoWithRetry(context.Background(), "get", getBuilder(srv.URL))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	ue := ReadError("replicate", "get", resp)
	assert.Equal(t, "overloaded", ue.Message)
	assert.ErrorIs(t, ue, domain.ErrUpstream)
}

func TestDo_BreakerOpensAndRejects(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := observability.NewCircuitBreaker("bfl", 2, time.Minute, IsBreakerFailure)
	c := New(Options{Provider: "bfl", Timeout: time.Second, Breaker: cb})
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := c.Do(context.Background(), "submit", req)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
	assert.Equal(t, observability.StateOpen, cb.GetState())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := c.Do(context.Background(), "submit", req)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cb := observability.NewCircuitBreaker("mistral", 1, time.Minute, IsBreakerFailure)
	c := New(Options{Provider: "mistral", Timeout: time.Second, Breaker: cb})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), "chat", req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, observability.StateClosed, cb.GetState())
}

func TestDo_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(Options{Provider: "pollinations", Timeout: time.Second, RPS: 100, Burst: 1, Backoff: fastBackoff})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.DoWithRetry(ctx, "chat", getBuilder(srv.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || domain.IsRetryable(err))
}

func TestDoWithRetry_BuildError(t *testing.T) {
	c := New(Options{Provider: "x", Backoff: fastBackoff})
	_, err := c.DoWithRetry(context.Background(), "op", func(context.Context) (*http.Request, error) {
		return nil, errors.New("bad url")
	})
	assert.ErrorContains(t, err, "bad url")
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Config{AppEnv: "test", UpstreamTimeout: 3 * time.Second, UpstreamRPS: 5, UpstreamBurst: 2}
	m := observability.NewCircuitBreakerManager(3, time.Second, IsBreakerFailure)
	c := NewFromConfig(cfg, "supabase", m, 0)
	assert.Equal(t, "supabase", c.Provider())
	assert.Equal(t, 3*time.Second, c.hc.Timeout)
	assert.NotNil(t, c.limiter)
	assert.Same(t, m.For("supabase"), c.breaker)
	assert.Equal(t, 2*time.Second, c.backoff.MaxElapsedTime)
}

func TestNewFromConfig_PacingIsOptIn(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.UpstreamRPS)
	c := NewFromConfig(cfg, "pollinations", nil, 0)
	assert.Nil(t, c.limiter)
	assert.Nil(t, c.breaker)
}

func TestNewSourceClient_HasNoBreakerOrPacer(t *testing.T) {
	cfg := config.Config{UpstreamTimeout: 4 * time.Second, UpstreamRPS: 5, UpstreamBurst: 1}
	c := NewSourceClient(cfg, "media_source")
	assert.Equal(t, "media_source", c.Provider())
	assert.Equal(t, 4*time.Second, c.hc.Timeout)
	assert.Nil(t, c.limiter)
	assert.Nil(t, c.breaker)
}

func TestIsBreakerFailure(t *testing.T) {
	assert.True(t, IsBreakerFailure(errServerStatus))
	assert.True(t, IsBreakerFailure(domain.ErrUpstreamTimeout))
	assert.False(t, IsBreakerFailure(nil))
	assert.False(t, IsBreakerFailure(context.Canceled))
	assert.False(t, IsBreakerFailure(domain.NewUpstreamError("p", "op", 400, "bad")))
}
