package upstream

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error string", `{"error":"quota exceeded"}`, "quota exceeded"},
		{"error object", `{"error":{"message":"model not found","code":404}}`, "model not found"},
		{"error object without message", `{"error":{"code":"x"}}`, `{"code":"x"}`},
		{"message", `{"message":"slow down"}`, "slow down"},
		{"detail", `{"detail":"Invalid version"}`, "Invalid version"},
		{"plain text", "upstream exploded", "upstream exploded"},
		{"empty", "  ", "500 Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorDetail([]byte(tt.body), "500 Internal Server Error"))
		})
	}
	long := strings.Repeat("x", 5000)
	assert.Len(t, ErrorDetail([]byte(long), ""), maxErrorMessage)
}

func TestBodyDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error object message", `{"error":{"message":"model not found"}}`, "model not found"},
		{"whole document", `{"error":"Bad Request", "details":"Input text exceeds maximum length"}`, `{"error":"Bad Request","details":"Input text exceeds maximum length"}`},
		{"array", `[1, 2]`, `[1,2]`},
		{"plain text", "gateway down", "gateway down"},
		{"empty", "", "502 Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BodyDetail([]byte(tt.body), "502 Bad Gateway"))
		})
	}
}

func TestReadError(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Status:     "429 Too Many Requests",
		Body:       io.NopCloser(strings.NewReader(`{"detail":"throttled"}`)),
	}
	ue := ReadError("replicate", "create", resp)
	assert.Equal(t, 429, ue.Status)
	assert.Equal(t, "throttled", ue.Error())
	assert.ErrorIs(t, ue, domain.ErrUpstreamRateLimit)
}

func TestReadLimited(t *testing.T) {
	b, err := ReadLimited(bytes.NewReader([]byte("12345")), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(b))

	_, err = ReadLimited(bytes.NewReader([]byte("123456")), 5)
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
}

func TestDataURLRoundTrip(t *testing.T) {
	u := DataURL("image/png", []byte{0x89, 0x50})
	assert.Equal(t, "data:image/png;base64,iVA=", u)
	ct, b, err := ParseDataURL(u)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, []byte{0x89, 0x50}, b)

	_, _, err = ParseDataURL("https://example.com/a.png")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, _, err = ParseDataURL("data:text/plain,hello")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
