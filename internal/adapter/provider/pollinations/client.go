// Package pollinations is the client for the Pollinations text, image, audio
// and media storage APIs.
package pollinations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
)

// ErrNoReply is returned when a 2xx chat answer carries no extractable text.
var ErrNoReply = errors.New("pollinations: reply content could not be extracted from the response")

// URLs are the Pollinations service roots.
type URLs struct {
	Text  string
	Image string
	Gen   string
	Enter string
	Media string
}

// Client talks to Pollinations. Every method takes the API key to use; an
// empty key sends the request anonymously.
type Client struct {
	http *upstream.Client
	urls URLs
}

// New builds a Client over an upstream client.
func New(hc *upstream.Client, urls URLs) *Client {
	return &Client{http: hc, urls: trimURLs(urls)}
}

// NewFromConfig builds a Client from configuration.
func NewFromConfig(cfg config.Config, breakers *observability.CircuitBreakerManager) *Client {
	return New(upstream.NewFromConfig(cfg, domain.ProviderPollinations, breakers, 0), URLs{
		Text:  cfg.PollinationsTextURL,
		Image: cfg.PollinationsImageURL,
		Gen:   cfg.PollinationsGenURL,
		Enter: cfg.PollinationsEnterURL,
		Media: cfg.PollinationsMediaURL,
	})
}

func trimURLs(u URLs) URLs {
	return URLs{
		Text:  strings.TrimRight(u.Text, "/"),
		Image: strings.TrimRight(u.Image, "/"),
		Gen:   strings.TrimRight(u.Gen, "/"),
		Enter: strings.TrimRight(u.Enter, "/"),
		Media: strings.TrimRight(u.Media, "/"),
	}
}

// ChatRequest is the OpenAI-compatible payload of the text API.
type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	System      string               `json:"system,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	N           int                  `json:"n,omitempty"`
	Private     bool                 `json:"private,omitempty"`
	Stream      *bool                `json:"stream,omitempty"`
}

// Float returns a pointer to f, for optional request fields.
func Float(f float64) *float64 { return &f }

// Bool returns a pointer to b, for optional request fields.
func Bool(b bool) *bool { return &b }

// Chat posts req to {text}/openai and returns the raw JSON answer.
func (c *Client) Chat(ctx context.Context, key string, req ChatRequest) (json.RawMessage, error) {
	return c.postChat(ctx, "chat", c.urls.Text+"/openai", key, req)
}

// EnterChat posts an OpenAI-compatible payload to the authenticated
// {enter}/api/generate/v1/chat/completions endpoint.
func (c *Client) EnterChat(ctx context.Context, key string, payload any) (json.RawMessage, error) {
	return c.postChat(ctx, "enter_chat", c.urls.Enter+"/api/generate/v1/chat/completions", key, payload)
}

func (c *Client) postChat(ctx context.Context, op, url, key string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("op=pollinations.%s: marshal: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("op=pollinations.%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	setKey(req, key)

	resp, err := c.http.Do(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := upstream.ReadErrorWith(domain.ProviderPollinations, op, resp, upstream.BodyDetail)
		ue.Message = fmt.Sprintf("Pollinations API request failed with status %d: %s", ue.Status, ue.Message)
		obsctx.LoggerFromContext(ctx).Warn("pollinations chat non-2xx",
			slog.String("op", op),
			slog.Int("status", ue.Status))
		return nil, ue
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := upstream.ReadLimited(resp.Body, 16<<20)
	if err != nil {
		return nil, fmt.Errorf("op=pollinations.%s: %w", op, err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: pollinations %s returned invalid JSON", domain.ErrBadGateway, op)
	}
	return raw, nil
}

// ExtractReply pulls the reply text out of a chat answer, trying
// choices[0].message.content (null meaning empty), choices[0].text, reply
// and content in that order. The result is trimmed.
func ExtractReply(raw json.RawMessage) (string, error) {
	var out struct {
		Choices []struct {
			Message *struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
			Text *string `json:"text"`
		} `json:"choices"`
		Reply   *string `json:"reply"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("op=pollinations.ExtractReply: %w", err)
	}
	if len(out.Choices) > 0 {
		ch := out.Choices[0]
		if ch.Message != nil && ch.Message.Content != nil {
			var s *string
			if err := json.Unmarshal(ch.Message.Content, &s); err == nil {
				if s == nil {
					return "", nil
				}
				return strings.TrimSpace(*s), nil
			}
		}
		if ch.Text != nil {
			return strings.TrimSpace(*ch.Text), nil
		}
	}
	if out.Reply != nil {
		return strings.TrimSpace(*out.Reply), nil
	}
	if out.Content != nil {
		return strings.TrimSpace(*out.Content), nil
	}
	return "", ErrNoReply
}

// Search queries {text}/search and returns the raw answer body.
func (c *Client) Search(ctx context.Context, key, query string) (string, error) {
	resp, err := c.http.DoWithRetry(ctx, "search", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urls.Text+"/search?q="+queryEscape(query), nil)
		if err != nil {
			return nil, err
		}
		setKey(req, key)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := upstream.ReadLimited(resp.Body, 4<<20)
	if err != nil {
		return "", fmt.Errorf("op=pollinations.Search: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewUpstreamError(domain.ProviderPollinations, "search", resp.StatusCode,
			fmt.Sprintf("Elixposearch API request failed with status %d: %s", resp.StatusCode, string(b)))
	}
	return string(b), nil
}

func setKey(req *http.Request, key string) {
	if key = strings.TrimSpace(key); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return upstream.ReadLimited(resp.Body, limit)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
