// Package mistral is the client for the Mistral chat completions API, used
// as the fallback text provider.
package mistral

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
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/tokencount"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries   int
	RetryWait time.Duration
}

// Client calls Mistral with a constant-delay retry on network errors, 429
// and 5xx answers.
type Client struct {
	http    *upstream.Client
	catalog *config.Catalog
	counter *tokencount.Counter
	opts    Options
}

// New builds a Client.
func New(hc *upstream.Client, catalog *config.Catalog, counter *tokencount.Counter, opts Options) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if counter == nil {
		counter = tokencount.NewCounter()
	}
	return &Client{http: hc, catalog: catalog, counter: counter, opts: opts}
}

// NewFromConfig builds a Client from configuration.
func NewFromConfig(cfg config.Config, catalog *config.Catalog, breakers *observability.CircuitBreakerManager) *Client {
	// Per-attempt timeouts are applied through the context, so the HTTP
	// client gets the shared upstream timeout.
	hc := upstream.NewFromConfig(cfg, domain.ProviderMistral, breakers, 0)
	return New(hc, catalog, tokencount.NewCounter(), Options{
		BaseURL:   cfg.MistralBaseURL,
		APIKey:    strings.TrimSpace(cfg.MistralAPIKey),
		Timeout:   cfg.MistralTimeout,
		Retries:   cfg.MistralRetries,
		RetryWait: cfg.MistralRetryWait,
	})
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.opts.APIKey != "" }

// Request is one completion call.
type Request struct {
	// ModelID may be a Mistral family name or a Pollinations id; it is
	// resolved through the catalog.
	ModelID      string
	Messages     []domain.ChatMessage
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends req and returns the normalized reply. Image parts are reduced
// to their text; older turns are dropped when the history would overflow
// the model's context window.
func (c *Client) Chat(ctx context.Context, req Request) (domain.ChatReply, error) {
	if !c.Configured() {
		return domain.ChatReply{}, fmt.Errorf("%w: MISTRAL_API_KEY is not set", domain.ErrNotConfigured)
	}
	key, model := c.catalog.ResolveMistral(req.ModelID)
	payload := c.buildPayload(ctx, req, model)

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ChatReply{}, fmt.Errorf("op=mistral.Chat: marshal: %w", err)
	}

	var out wireResponse
	attempt := 0
	call := func() error {
		attempt++
		actx := ctx
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}
		err := c.send(actx, body, &out)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if ctx.Err() != nil || !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		obsctx.LoggerFromContext(ctx).Warn("mistral attempt failed",
			slog.Int("attempt", attempt),
			slog.String("model", model.ID),
			slog.Any("error", err))
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryWait), uint64(max(c.opts.Retries, 0))), ctx)
	if err := backoff.Retry(call, bo); err != nil {
		return domain.ChatReply{}, err
	}

	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return domain.ChatReply{}, fmt.Errorf("%w: mistral returned an empty reply", domain.ErrBadGateway)
	}
	reply := domain.ChatReply{
		Text:     strings.TrimSpace(out.Choices[0].Message.Content),
		Model:    model.ID,
		Provider: domain.ProviderMistral,
	}
	if out.Usage != nil {
		reply.Usage = &domain.TokenUsage{
			Prompt:     out.Usage.PromptTokens,
			Completion: out.Usage.CompletionTokens,
			Total:      out.Usage.TotalTokens,
		}
	}
	obsctx.LoggerFromContext(ctx).Debug("mistral reply",
		slog.String("family", key),
		slog.String("model", model.ID),
		slog.Int("attempts", attempt))
	return reply, nil
}

func (c *Client) buildPayload(ctx context.Context, req Request, model config.MistralModel) wireRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temp := defaultTemperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	msgs := make([]domain.ChatMessage, 0, len(req.Messages)+1)
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: domain.TextContent(sys)})
	}
	msgs = append(msgs, req.Messages...)
	if model.ContextWindow > maxTokens {
		var dropped int
		msgs, dropped = c.counter.TrimToBudget(msgs, model.ContextWindow-maxTokens)
		if dropped > 0 {
			obsctx.LoggerFromContext(ctx).Info("mistral history trimmed",
				slog.String("model", model.ID),
				slog.Int("dropped", dropped))
		}
	}

	wire := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, wireMessage{Role: m.Role, Content: m.Content.PlainText()})
	}
	return wireRequest{Model: model.ID, Messages: wire, Temperature: temp, MaxTokens: maxTokens}
}

func (c *Client) send(ctx context.Context, body []byte, out *wireResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("op=mistral.Chat: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.http.Do(ctx, "chat", req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("op=mistral.Chat: read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.NewUpstreamError(domain.ProviderMistral, "chat", resp.StatusCode, errorMessage(resp.StatusCode, raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(fmt.Errorf("%w: mistral returned invalid JSON: %v", domain.ErrBadGateway, err))
	}
	return nil
}

// errorMessage prefers the API's error.message, then a status line with
// the raw body.
func errorMessage(status int, raw []byte) string {
	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Sprintf("Mistral API request failed with status %d", status)
	}
	if len(text) > 500 {
		text = text[:500]
	}
	return fmt.Sprintf("Mistral API request failed with status %d: %s", status, text)
}
