package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// HeadInfo is what a HEAD request revealed about a remote object. Zero values
// mean the header was absent or the request failed.
type HeadInfo struct {
	ContentType   string
	ContentLength int64
}

// Head issues a best-effort HEAD request. Any failure yields an empty HeadInfo.
func (c *Client) Head(ctx context.Context, url string) HeadInfo {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return HeadInfo{}
	}
	resp, err := c.Do(ctx, "head", req)
	if err != nil {
		return HeadInfo{}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HeadInfo{}
	}
	p := HeadInfo{ContentType: resp.Header.Get("Content-Type")}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n > 0 {
		p.ContentLength = n
	}
	return p
}

// Fetch downloads url, reading at most limit bytes. A non-2xx answer is a
// *domain.UpstreamError; a longer body fails with domain.ErrPayloadTooLarge.
func (c *Client) Fetch(ctx context.Context, url string, limit int64) (domain.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Media{}, fmt.Errorf("op=upstream.Fetch: %w", err)
	}
	resp, err := c.Do(ctx, "fetch", req)
	if err != nil {
		return domain.Media{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Media{}, ReadError(c.provider, "fetch", resp)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := ReadLimited(resp.Body, limit)
	if err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.Media{}, err
	}
	return domain.Media{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}
