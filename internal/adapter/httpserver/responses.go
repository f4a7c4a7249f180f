// Package httpserver contains the gateway HTTP handlers and middleware.
//
// Handlers decode and validate requests, resolve the Pollinations key for
// the caller and delegate to the use case services. Every failure is
// rendered by writeError as a flat JSON envelope whose "error" string is
// what browser clients display.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	Status    string `json:"status,omitempty"`
	ModelUsed string `json:"modelUsed,omitempty"`
}

type errorClass struct {
	sentinel error
	status   int
	code     string
}

// Order matters: the first sentinel found in the chain decides the reply.
var errorClasses = []errorClass{
	{domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{domain.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	{domain.ErrUnsupportedMedia, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
	{domain.ErrGone, http.StatusGone, "GONE"},
	{domain.ErrUpstreamTimeout, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"},
	{domain.ErrUpstreamRateLimit, http.StatusTooManyRequests, "UPSTREAM_RATE_LIMIT"},
	{domain.ErrBadGateway, http.StatusBadGateway, "BAD_GATEWAY"},
	{domain.ErrUpstream, http.StatusBadGateway, "UPSTREAM_ERROR"},
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
	{domain.ErrNotConfigured, http.StatusInternalServerError, "NOT_CONFIGURED"},
	{domain.ErrInternal, http.StatusInternalServerError, "INTERNAL"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func classify(err error) errorClass {
	for _, c := range errorClasses {
		if errors.Is(err, c.sentinel) {
			return c
		}
	}
	return errorClass{status: http.StatusInternalServerError, code: "INTERNAL"}
}

// clientMessage drops everything up to and including the sentinel text so
// clients see only the human readable part.
func clientMessage(err error, sentinel error) string {
	msg := err.Error()
	if sentinel == nil {
		return msg
	}
	text := sentinel.Error()
	if i := strings.Index(msg, text+": "); i >= 0 {
		return msg[i+len(text)+2:]
	}
	if strings.HasSuffix(msg, text) {
		return text
	}
	return msg
}

// errorResponse maps err onto a status and envelope.
func errorResponse(err error) (int, errorBody) {
	var pe *usecase.PredictionError
	if errors.As(err, &pe) {
		c := classify(pe)
		if errors.Is(pe, domain.ErrUpstreamTimeout) {
			return http.StatusGatewayTimeout, errorBody{Error: pe.Message, Code: c.code, Status: pe.Status}
		}
		return http.StatusInternalServerError, errorBody{Error: pe.Message, Code: c.code}
	}

	var ie *usecase.ImageError
	if errors.As(err, &ie) {
		status, body := errorResponse(ie.Err)
		body.ModelUsed = ie.Model
		return status, body
	}

	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		c := classify(ue)
		status := ue.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, errorBody{Error: ue.Error(), Code: c.code}
	}

	c := classify(err)
	return c.status, errorBody{Error: clientMessage(err, c.sentinel), Code: c.code}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status, body := errorResponse(err)
	if details != nil {
		body.Details = details
	}
	logError(r, status, err)
	writeJSON(w, status, body)
}

func logError(r *http.Request, status int, err error) {
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	LoggerFrom(r).Log(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Any("error", err))
}
