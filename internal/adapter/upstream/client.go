// Package upstream is the outbound HTTP plumbing shared by every provider
// client: instrumented transport, pacing, circuit breaking, retries and
// provider error decoding.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
)

// maxErrorBody caps how much of a failed response is buffered.
const maxErrorBody = 64 << 10

// errServerStatus marks a 5xx/429 answer for breaker accounting only; the
// response itself is still handed to the caller.
var errServerStatus = errors.New("upstream: server status")

// BackoffConfig shapes the exponential retry of DoWithRetry.
type BackoffConfig struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Options configures a Client.
type Options struct {
	Provider string
	Timeout  time.Duration
	// RPS and Burst pace outbound requests; RPS <= 0 disables pacing.
	RPS   float64
	Burst int
	// Breaker is optional.
	Breaker *observability.CircuitBreaker
	Backoff BackoffConfig
	// Transport replaces the default transport (tests).
	Transport http.RoundTripper
}

// Client performs requests against one provider.
type Client struct {
	provider string
	hc       *http.Client
	limiter  *rate.Limiter
	breaker  *observability.CircuitBreaker
	backoff  BackoffConfig
}

// New builds a Client. The transport is wrapped with otelhttp so every
// outbound call becomes a client span.
func New(opts Options) *Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := &Client{
		provider: opts.Provider,
		hc: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		breaker: opts.Breaker,
		backoff: opts.Backoff,
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// NewFromConfig builds a Client for provider using the shared outbound
// settings. A zero timeout falls back to UPSTREAM_TIMEOUT.
func NewFromConfig(cfg config.Config, provider string, breakers *observability.CircuitBreakerManager, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = cfg.UpstreamTimeout
	}
	maxElapsed, initial, maxInterval, mult := cfg.GetUpstreamBackoffConfig()
	opts := Options{
		Provider: provider,
		Timeout:  timeout,
		RPS:      cfg.UpstreamRPS,
		Burst:    cfg.UpstreamBurst,
		Backoff: BackoffConfig{
			MaxElapsedTime:  maxElapsed,
			InitialInterval: initial,
			MaxInterval:     maxInterval,
			Multiplier:      mult,
		},
	}
	if breakers != nil {
		opts.Breaker = breakers.For(provider)
	}
	return New(opts)
}

// NewSourceClient builds a Client for caller supplied media URLs. It has no
// breaker and no pacer: a slow or failing source URL must not reject
// traffic for other callers.
func NewSourceClient(cfg config.Config, name string) *Client {
	return New(Options{Provider: name, Timeout: cfg.UpstreamTimeout})
}

// Provider returns the provider name used in metrics and errors.
func (c *Client) Provider() string { return c.provider }

// Do sends req once, honouring the pacer and the breaker. Any HTTP status
// is returned as a response; only transport failures and rejections are
// errors.
func (c *Client) Do(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("op=upstream.Do: %s %s: %w", c.provider, op, err)
		}
	}
	req = req.WithContext(ctx)
	start := time.Now()
	var resp *http.Response
	call := func() error {
		var err error
		resp, err = c.hc.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return errServerStatus
		}
		return nil
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Call(call)
	} else {
		err = call()
	}
	if errors.Is(err, errServerStatus) {
		err = nil
	}
	observability.ObserveProviderCall(c.provider, op, outcome(resp, err), time.Since(start))
	if err != nil {
		obsctx.LoggerFromContext(ctx).Warn("upstream call failed",
			slog.String("provider", c.provider),
			slog.String("op", op),
			slog.Any("error", err))
		if errors.Is(err, domain.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("op=upstream.Do: %s %s: %w", c.provider, op, err)
	}
	return resp, nil
}

// DoWithRetry sends the request built by build with exponential backoff.
// Transport errors, 429 and 5xx answers are retried; other statuses return
// immediately. When retries run out on a retryable status, the last
// response is returned with its body buffered.
func (c *Client) DoWithRetry(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var (
		out      *http.Response
		lastResp *http.Response
	)
	attempt := func() error {
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=upstream.DoWithRetry: build: %w", err))
		}
		resp, err := c.Do(ctx, op, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			buffered, berr := bufferBody(resp)
			if berr != nil {
				return berr
			}
			lastResp = buffered
			obsctx.LoggerFromContext(ctx).Warn("upstream retryable status",
				slog.String("provider", c.provider),
				slog.String("op", op),
				slog.Int("status", resp.StatusCode))
			return fmt.Errorf("%s %s: status %d", c.provider, op, resp.StatusCode)
		}
		out = resp
		return nil
	}

	bo := backoff.WithContext(c.newBackoff(), ctx)
	if err := backoff.Retry(attempt, bo); err != nil {
		if lastResp != nil && ctx.Err() == nil {
			return lastResp, nil
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) newBackoff() backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	if c.backoff.MaxElapsedTime > 0 {
		expo.MaxElapsedTime = c.backoff.MaxElapsedTime
	}
	if c.backoff.InitialInterval > 0 {
		expo.InitialInterval = c.backoff.InitialInterval
	}
	if c.backoff.MaxInterval > 0 {
		expo.MaxInterval = c.backoff.MaxInterval
	}
	if c.backoff.Multiplier > 0 {
		expo.Multiplier = c.backoff.Multiplier
	}
	return expo
}

func bufferBody(resp *http.Response) (*http.Response, error) {
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(b))
	return resp, nil
}

func outcome(resp *http.Response, err error) string {
	switch {
	case errors.Is(err, domain.ErrUnavailable):
		return observability.OutcomeRejected
	case errors.Is(err, context.DeadlineExceeded):
		return observability.OutcomeTimeout
	case err != nil:
		return observability.OutcomeError
	case resp != nil && resp.StatusCode >= 400:
		return observability.OutcomeError
	default:
		return observability.OutcomeSuccess
	}
}

// IsBreakerFailure reports whether a call outcome should count against a
// provider's circuit breaker: server errors, rate limits, timeouts and
// transport failures. Client errors and cancellations do not.
func IsBreakerFailure(err error) bool {
	return errors.Is(err, errServerStatus) || domain.IsRetryable(err)
}
