package redpanda

import (
	"context"
	"errors"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// failureCode maps a job processing error to a stable label for logs.
func failureCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		return "UPSTREAM_RATE_LIMIT"
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, domain.ErrNotConfigured):
		return "NOT_CONFIGURED"
	case errors.Is(err, domain.ErrUpstream), errors.Is(err, domain.ErrBadGateway):
		return "UPSTREAM_ERROR"
	default:
		return "INTERNAL"
	}
}
