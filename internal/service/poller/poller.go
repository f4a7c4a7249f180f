// Package poller runs the submit-then-poll loop shared by every provider that
// answers generation requests asynchronously (Replicate, BFL, Pollinations
// media). Providers supply a fetch function and a status classifier; the
// loop owns delays, attempt budgets and cancellation.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// Status is the classification of one observed job state.
type Status int

const (
	// Pending means the job has not settled yet.
	Pending Status = iota
	// Succeeded is a terminal success.
	Succeeded
	// Failed is a terminal failure reported by the provider.
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Config parameterises one poll loop.
type Config struct {
	// Name labels metrics and logs (e.g. "replicate", "bfl").
	Name string
	// Interval is the fixed delay between two fetches.
	Interval time.Duration
	// MaxAttempts bounds the number of fetches.
	MaxAttempts int
	// InitialDelay sleeps one interval before the first fetch.
	InitialDelay bool
	// StopOnFetchError ends the loop on the first unwrapped fetch error and
	// returns the last observed value instead of counting it as pending.
	StopOnFetchError bool
}

// Budget is the nominal duration of a loop: Interval × MaxAttempts, plus
// one interval when InitialDelay is set. Fetch time comes on top; Poll
// itself bounds attempts, not wall-clock time.
func (c Config) Budget() time.Duration {
	n := c.MaxAttempts
	if c.InitialDelay {
		n++
	}
	return c.Interval * time.Duration(n)
}

// Result describes how a loop ended.
type Result struct {
	Status   Status
	Attempts int
	// Stopped is set when StopOnFetchError ended the loop early.
	Stopped bool
}

type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal marks a fetch error that must abort the loop immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// errPending keeps backoff.Retry looping while the job is not settled.
var errPending = errors.New("poller: pending")

// Poll fetches until classify reports a terminal status, the attempt budget
// is used up, or ctx ends. Every attempt is made regardless of how long
// each fetch takes; bound the total duration through ctx.
//
// On Failed the last value is returned with a nil error; callers decide how
// to surface the provider failure. Exhaustion returns an error wrapping
// domain.ErrUpstreamTimeout together with the last value.
func Poll[T any](ctx context.Context, cfg Config, fetch func(ctx context.Context, attempt int) (T, error), classify func(T) Status) (T, Result, error) {
	var (
		last    T
		res     Result
		lastErr error
	)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}

	if cfg.InitialDelay && cfg.Interval > 0 {
		t := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return last, res, finishErr(ctx, cfg, res, lastErr)
		case <-t.C:
		}
	}

	op := func() error {
		res.Attempts++
		v, err := fetch(ctx, res.Attempts)
		if err != nil {
			var fe *fatalError
			if errors.As(err, &fe) {
				return backoff.Permanent(fe.err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if cfg.StopOnFetchError {
				res.Stopped = true
				return nil
			}
			lastErr = err
			return errPending
		}
		last = v
		res.Status = classify(v)
		if res.Status == Pending {
			return errPending
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Interval), uint64(cfg.MaxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(op, bo)
	observability.ObservePoll(cfg.Name, res.Status.String(), res.Attempts)

	switch {
	case err == nil:
		return last, res, nil
	case errors.Is(err, errPending), errors.Is(err, context.DeadlineExceeded):
		return last, res, finishErr(ctx, cfg, res, lastErr)
	default:
		return last, res, err
	}
}

func finishErr(ctx context.Context, cfg Config, res Result, lastErr error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	msg := fmt.Sprintf("%s polling timed out after %d attempts", cfg.Name, res.Attempts)
	if lastErr != nil {
		return fmt.Errorf("%w: %s: last error: %v", domain.ErrUpstreamTimeout, msg, lastErr)
	}
	return fmt.Errorf("%w: %s (last status %s)", domain.ErrUpstreamTimeout, msg, res.Status)
}
