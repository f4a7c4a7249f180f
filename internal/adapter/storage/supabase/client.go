// Package supabase is the client for the Supabase Storage REST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// Client uploads and lists objects with the service role key.
type Client struct {
	http        *upstream.Client
	baseURL     string
	serviceRole string
}

// New builds a Client.
func New(hc *upstream.Client, baseURL, serviceRole string) *Client {
	return &Client{http: hc, baseURL: strings.TrimRight(baseURL, "/"), serviceRole: strings.TrimSpace(serviceRole)}
}

// NewFromConfig builds a Client from configuration.
func NewFromConfig(cfg config.Config, breakers *observability.CircuitBreakerManager) *Client {
	return New(upstream.NewFromConfig(cfg, domain.ProviderSupabase, breakers, 0), cfg.SupabaseURL, cfg.SupabaseServiceRole)
}

// Configured reports whether URL and service role are both present.
func (c *Client) Configured() bool { return c.baseURL != "" && c.serviceRole != "" }

func (c *Client) check() error {
	if !c.Configured() {
		return fmt.Errorf("%w: Supabase not configured on server", domain.ErrNotConfigured)
	}
	return nil
}

// Upload stores body at bucket/path without overwriting existing objects.
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, body []byte) error {
	if err := c.check(); err != nil {
		return err
	}
	target := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, url.PathEscape(bucket), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=supabase.Upload: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	resp, err := c.send(ctx, "upload", req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.failure("upload", resp, "Supabase upload failed")
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}

type listEntry struct {
	Name      string  `json:"name"`
	CreatedAt *string `json:"created_at"`
	Metadata  *struct {
		Size     *int64  `json:"size"`
		MimeType *string `json:"mimetype"`
	} `json:"metadata"`
}

// List returns objects under prefix, newest first. prefix must end with "/"
// when it names a folder.
func (c *Client) List(ctx context.Context, bucket, prefix string, limit int) ([]domain.StoredObject, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]any{
		"prefix": prefix,
		"limit":  limit,
		"sortBy": map[string]string{"column": "created_at", "order": "desc"},
	})
	if err != nil {
		return nil, fmt.Errorf("op=supabase.List: marshal: %w", err)
	}
	target := fmt.Sprintf("%s/storage/v1/object/list/%s", c.baseURL, url.PathEscape(bucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("op=supabase.List: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.send(ctx, "list", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		return nil, c.failure("list", resp, "Supabase list failed")
	}
	var entries []listEntry
	if err := upstream.DecodeJSON(resp, &entries); err != nil {
		return nil, fmt.Errorf("%w: supabase list returned invalid JSON", domain.ErrBadGateway)
	}
	out := make([]domain.StoredObject, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		path := prefix + e.Name
		obj := domain.StoredObject{
			Name:      e.Name,
			Path:      path,
			CreatedAt: e.CreatedAt,
			PublicURL: c.PublicURL(bucket, path),
		}
		if e.Metadata != nil {
			obj.Size = e.Metadata.Size
			obj.ContentType = e.Metadata.MimeType
		}
		out = append(out, obj)
	}
	return out, nil
}

// PublicURL is the unauthenticated download URL of bucket/path.
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, url.PathEscape(bucket), path)
}

func (c *Client) send(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.serviceRole)
	return c.http.Do(ctx, op, req)
}

// failure maps any storage error to status 500 with the upstream status
// and body in the message.
func (c *Client) failure(op string, resp *http.Response, prefix string) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(fmt.Sprintf("%s: %d %s", prefix, resp.StatusCode, strings.TrimSpace(string(b))))
	return domain.NewUpstreamError(domain.ProviderSupabase, op, http.StatusInternalServerError, msg)
}
