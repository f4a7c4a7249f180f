// Package replicate is the client for the Replicate predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
)

// Prediction states reported by Replicate.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction is the subset of a Replicate prediction the gateway reads.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Terminal reports whether the prediction has settled.
func (p Prediction) Terminal() bool {
	return p.Status == StatusSucceeded || p.Status == StatusFailed || p.Status == StatusCanceled
}

// HasOutput reports whether output is present and not null.
func (p Prediction) HasOutput() bool {
	s := strings.TrimSpace(string(p.Output))
	return s != "" && s != "null" && s != `""`
}

// ErrorMessage returns the provider error as text, or "".
func (p Prediction) ErrorMessage() string {
	s := strings.TrimSpace(string(p.Error))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if json.Unmarshal(p.Error, &str) == nil {
		return str
	}
	return s
}

func classify(p Prediction) poller.Status {
	switch p.Status {
	case StatusSucceeded:
		return poller.Succeeded
	case StatusFailed, StatusCanceled:
		return poller.Failed
	default:
		return poller.Pending
	}
}

// CreateRequest starts a prediction either by pinned Version or by
// ModelPath (owner/name) for official models.
type CreateRequest struct {
	Version   string
	ModelPath string
	Input     map[string]any
	// PreferWait asks Replicate to hold the create call open until the
	// prediction settles or its own wait limit passes.
	PreferWait bool
}

// Client talks to Replicate with Token auth.
type Client struct {
	http    *upstream.Client
	baseURL string
	token   string
}

// New builds a Client.
func New(hc *upstream.Client, baseURL, token string) *Client {
	return &Client{http: hc, baseURL: strings.TrimRight(baseURL, "/"), token: strings.TrimSpace(token)}
}

// NewFromConfig builds a Client from configuration.
func NewFromConfig(cfg config.Config, breakers *observability.CircuitBreakerManager) *Client {
	return New(upstream.NewFromConfig(cfg, domain.ProviderReplicate, breakers, 0), cfg.ReplicateBaseURL, cfg.ReplicateToken())
}

// Configured reports whether a token is present.
func (c *Client) Configured() bool { return c.token != "" }

// Create starts a prediction. Non-2xx answers return *domain.UpstreamError
// with the provider status and its `detail` message.
func (c *Client) Create(ctx context.Context, req CreateRequest) (Prediction, error) {
	if !c.Configured() {
		return Prediction{}, fmt.Errorf("%w: Replicate API token is missing", domain.ErrNotConfigured)
	}
	url := c.baseURL + "/v1/predictions"
	payload := map[string]any{"input": req.Input}
	if req.ModelPath != "" {
		url = c.baseURL + "/v1/models/" + strings.Trim(req.ModelPath, "/") + "/predictions"
	} else {
		payload["version"] = req.Version
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Prediction{}, fmt.Errorf("op=replicate.Create: marshal: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("op=replicate.Create: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if req.PreferWait {
		hreq.Header.Set("Prefer", "wait")
	}
	return c.do(ctx, "create", hreq, "Failed to start prediction with Replicate.")
}

// Get reads a prediction from its polling URL.
func (c *Client) Get(ctx context.Context, url string) (Prediction, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Prediction{}, fmt.Errorf("op=replicate.Get: %w", err)
	}
	return c.do(ctx, "get", hreq, "Failed to poll prediction status from Replicate.")
}

func (c *Client) do(ctx context.Context, op string, req *http.Request, fallback string) (Prediction, error) {
	req.Header.Set("Authorization", "Token "+c.token)
	resp, err := c.http.Do(ctx, op, req)
	if err != nil {
		return Prediction{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Prediction{}, fmt.Errorf("op=replicate.%s: read: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Prediction{}, domain.NewUpstreamError(domain.ProviderReplicate, op, resp.StatusCode, detail(raw, fallback))
	}
	var p Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return Prediction{}, fmt.Errorf("%w: replicate %s returned invalid JSON", domain.ErrBadGateway, op)
	}
	return p, nil
}

func detail(raw []byte, fallback string) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return fallback
}

// Run creates a prediction and polls its `urls.get` until it settles.
//
// Poll errors abort the run, unless cfg.StopOnFetchError is set, in which
// case the last observed prediction is returned for the caller to
// evaluate. A prediction without a polling URL is returned as created.
// Exhaustion returns domain.ErrUpstreamTimeout with the last prediction.
func (c *Client) Run(ctx context.Context, req CreateRequest, cfg poller.Config) (Prediction, error) {
	p, err := c.Create(ctx, req)
	if err != nil {
		return Prediction{}, err
	}
	if p.Terminal() || p.URLs.Get == "" {
		return p, nil
	}
	cfg.InitialDelay = true
	getURL := p.URLs.Get
	fetch := func(ctx context.Context, _ int) (Prediction, error) {
		next, err := c.Get(ctx, getURL)
		if err != nil && !cfg.StopOnFetchError {
			return next, poller.Fatal(err)
		}
		return next, err
	}
	last, _, err := poller.Poll(ctx, cfg, fetch, classify)
	if last.Status == "" {
		last = p
	}
	return last, err
}
