// Package catbox uploads files anonymously to catbox.moe so models that
// only accept URLs can read caller supplied images.
package catbox

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// Client posts to the catbox user API.
type Client struct {
	http     *upstream.Client
	endpoint string
}

// New builds a Client for endpoint.
func New(hc *upstream.Client, endpoint string) *Client {
	return &Client{http: hc, endpoint: strings.TrimSpace(endpoint)}
}

// NewFromConfig builds a Client from configuration.
func NewFromConfig(cfg config.Config, breakers *observability.CircuitBreakerManager) *Client {
	return New(upstream.NewFromConfig(cfg, domain.ProviderCatbox, breakers, 0), cfg.CatboxURL)
}

// Upload sends one file with reqtype=fileupload and returns the public URL
// from the plain text answer.
func (c *Client) Upload(ctx context.Context, filename, contentType string, body []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("reqtype", "fileupload"); err != nil {
		return "", fmt.Errorf("op=catbox.Upload: %w", err)
	}
	fw, err := mw.CreatePart(filePartHeader(filename, contentType))
	if err != nil {
		return "", fmt.Errorf("op=catbox.Upload: %w", err)
	}
	if _, err := fw.Write(body); err != nil {
		return "", fmt.Errorf("op=catbox.Upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("op=catbox.Upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("op=catbox.Upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(ctx, "upload", req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewUpstreamError(domain.ProviderCatbox, "upload", resp.StatusCode, "Failed to upload to temp storage")
	}
	b, err := upstream.ReadLimited(resp.Body, 4<<10)
	if err != nil {
		return "", fmt.Errorf("op=catbox.Upload: %w", err)
	}
	out := strings.TrimSpace(string(b))
	if !strings.HasPrefix(out, "http://") && !strings.HasPrefix(out, "https://") {
		return "", fmt.Errorf("%w: temp storage answered %q", domain.ErrBadGateway, truncate(out, 200))
	}
	return out, nil
}

func filePartHeader(filename, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="fileToUpload"; filename=%q`, filename)},
		"Content-Type":        {contentType},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
