package pollinations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// maxImageBytes caps a generated image download.
const maxImageBytes = 50 << 20

// ImageParams are the query parameters of the image API.
type ImageParams struct {
	Prompt      string
	Model       string
	Width       int
	Height      int
	Seed        *int
	NoLogo      bool
	Enhance     bool
	Private     bool
	Transparent bool
}

// Query encodes params the way the image API expects.
func (p ImageParams) Query() url.Values {
	q := url.Values{}
	q.Set("width", strconv.Itoa(p.Width))
	q.Set("height", strconv.Itoa(p.Height))
	q.Set("model", p.Model)
	if p.Seed != nil {
		q.Set("seed", strconv.Itoa(*p.Seed))
	}
	if p.NoLogo {
		q.Set("nologo", "true")
	}
	if p.Enhance {
		q.Set("enhance", "true")
	}
	if p.Private {
		q.Set("private", "true")
	}
	if p.Transparent {
		q.Set("transparent", "true")
	}
	return q
}

// GenerateImage fetches {image}/prompt/{prompt}?... and returns the image.
// A non-image answer fails with domain.ErrBadGateway.
func (c *Client) GenerateImage(ctx context.Context, key string, p ImageParams) (domain.Media, error) {
	target := c.urls.Image + "/prompt/" + url.PathEscape(strings.TrimSpace(p.Prompt)) + "?" + p.Query().Encode()
	resp, err := c.http.DoWithRetry(ctx, "image", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		setKey(req, key)
		return req, nil
	})
	if err != nil {
		return domain.Media{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := upstream.ReadError(domain.ProviderPollinations, "image", resp)
		ue.Message = fmt.Sprintf("Pollinations API request failed for model %s: %d - %s", p.Model, ue.Status, truncate(ue.Message, 200))
		return domain.Media{}, ue
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		drain(resp)
		return domain.Media{}, fmt.Errorf("%w: Pollinations API (model: %s) did not return an image. Received: %s", domain.ErrBadGateway, p.Model, ct)
	}
	b, err := readBody(resp, maxImageBytes)
	if err != nil {
		return domain.Media{}, fmt.Errorf("op=pollinations.GenerateImage: %w", err)
	}
	return domain.Media{Data: b, ContentType: ct}, nil
}

// ImageModels lists the model ids of {image}/models. A non-string-array
// answer fails with domain.ErrBadGateway.
func (c *Client) ImageModels(ctx context.Context) ([]string, error) {
	resp, err := c.http.DoWithRetry(ctx, "image_models", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.urls.Image+"/models", nil)
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := upstream.ReadError(domain.ProviderPollinations, "image_models", resp)
		ue.Message = truncate(fmt.Sprintf("Failed to fetch models from Pollinations: %d %s", ue.Status, ue.Message), 200)
		return nil, ue
	}
	var models []string
	if err := upstream.DecodeJSON(resp, &models); err != nil {
		return nil, fmt.Errorf("%w: Unexpected format received from Pollinations models API", domain.ErrBadGateway)
	}
	return models, nil
}

// MediaURL is the immutable public URL of a stored media object.
func (c *Client) MediaURL(key string) string {
	return c.urls.Media + "/" + url.PathEscape(key)
}

func queryEscape(s string) string { return url.QueryEscape(strings.TrimSpace(s)) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// decodeObject decodes b as a JSON object, or wraps text as {"error": text}.
func decodeObject(b []byte, fallback string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err == nil && m != nil {
		return m
	}
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = fallback
	}
	return map[string]any{"error": msg}
}
