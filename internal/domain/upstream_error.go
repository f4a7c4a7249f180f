package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// UpstreamError is a non-2xx answer from a provider. Status is the provider's
// HTTP status and is surfaced to clients unchanged.
type UpstreamError struct {
	Provider string
	Op       string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Provider, e.Op, e.Status)
	}
	return e.Message
}

// Unwrap maps the provider status onto the sentinel taxonomy.
func (e *UpstreamError) Unwrap() error {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return ErrUpstreamRateLimit
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusRequestTimeout || e.Status == http.StatusGatewayTimeout:
		return ErrUpstreamTimeout
	default:
		return ErrUpstream
	}
}

// NewUpstreamError builds an UpstreamError.
func NewUpstreamError(provider, op string, status int, msg string) *UpstreamError {
	return &UpstreamError{Provider: provider, Op: op, Status: status, Message: msg}
}

// IsRetryable reports whether err is worth another attempt or a provider
// fallback: 5xx and 429 answers, timeouts and transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status >= 500 || ue.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamRateLimit) ||
		errors.Is(err, ErrBadGateway) || errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
