package upstream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// maxErrorMessage caps provider error text surfaced to clients.
const maxErrorMessage = 1000

// ReadError consumes a non-2xx response into a *domain.UpstreamError. The
// message comes from a JSON `error`, `error.message`, `message` or
// `detail` field, else from the raw body text.
func ReadError(provider, op string, resp *http.Response) *domain.UpstreamError {
	return ReadErrorWith(provider, op, resp, ErrorDetail)
}

// ReadErrorWith is ReadError with a custom message extractor.
func ReadErrorWith(provider, op string, resp *http.Response, detail func(body []byte, fallback string) string) *domain.UpstreamError {
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return domain.NewUpstreamError(provider, op, resp.StatusCode, detail(b, resp.Status))
}

// BodyDetail keeps the whole error body: an `error.message` object field
// when present, else the compacted JSON document, else the raw text.
func BodyDetail(body []byte, fallback string) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fallback
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return truncate(trimmed, maxErrorMessage)
	}
	if obj, ok := parsed.(map[string]any); ok {
		if inner, ok := obj["error"].(map[string]any); ok {
			if msg, ok := inner["message"].(string); ok && msg != "" {
				return truncate(msg, maxErrorMessage)
			}
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return truncate(trimmed, maxErrorMessage)
	}
	return truncate(buf.String(), maxErrorMessage)
}

// ErrorDetail extracts a human-readable message from an error body.
func ErrorDetail(body []byte, fallback string) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fallback
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"error", "message", "detail"} {
			switch v := parsed[key].(type) {
			case string:
				if v != "" {
					return truncate(v, maxErrorMessage)
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return truncate(msg, maxErrorMessage)
				}
				if enc, err := json.Marshal(v); err == nil {
					return truncate(string(enc), maxErrorMessage)
				}
			}
		}
	}
	return truncate(trimmed, maxErrorMessage)
}

// ReadLimited reads at most limit bytes from r. A longer stream fails with
// domain.ErrPayloadTooLarge.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("op=upstream.ReadLimited: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrPayloadTooLarge, limit)
	}
	return b, nil
}

// DecodeJSON decodes a 2xx response body into v and closes it.
func DecodeJSON(resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(v); err != nil {
		return fmt.Errorf("op=upstream.DecodeJSON: %w", err)
	}
	return nil
}

// DataURL encodes body as a base64 data URL.
func DataURL(contentType string, body []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body)
}

// ParseDataURL splits a base64 data URL into content type and bytes.
func ParseDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: not a data URL", domain.ErrInvalidArgument)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("%w: data URL must be base64", domain.ErrInvalidArgument)
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: data URL payload: %v", domain.ErrInvalidArgument, err)
	}
	return strings.TrimSuffix(meta, ";base64"), b, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
