// Package observability carries request-scoped logging state through context.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type loggerContextKey struct{}

// requestIDContextKey stores the originating request_id so that queue
// workers and provider clients can correlate their logs with it.
type requestIDContextKey struct{}

type jobIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present. When the context carries a recording
// span, trace_id and span_id are added.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	lg := slog.Default()
	if v, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && v != nil {
		lg = v
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		lg = lg.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return lg
}

// WithAttrs returns a context whose logger carries the extra attributes.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	if ctx == nil || len(args) == 0 {
		return ctx
	}
	lg := slog.Default()
	if v, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && v != nil {
		lg = v
	}
	return context.WithValue(ctx, loggerContextKey{}, lg.With(args...))
}

// ContextWithRequestID stores a non-empty request_id in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the request_id, or "" when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDContextKey{}).(string)
	return rid
}

// ContextWithJobID stores the generation job id handled by a worker.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	if ctx == nil || jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDContextKey{}, jobID)
}

// JobIDFromContext returns the generation job id, or "".
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(jobIDContextKey{}).(string)
	return id
}
