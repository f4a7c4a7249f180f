// Package bfl is the client for the Black Forest Labs FLUX API.
package bfl

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
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
)

const maxImageBytes = 50 << 20

// Job is the answer to a submit call.
type Job struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

// Result is one poll answer. Only Status is common to all BFL endpoints;
// the image location varies, see ExtractImageURL.
type Result struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	URL    string          `json:"url,omitempty"`
	Output []string        `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`

	raw json.RawMessage
}

func classify(r Result) poller.Status {
	switch r.Status {
	case "Ready", "finished":
		return poller.Succeeded
	case "Failed", "Error", "failed":
		return poller.Failed
	default:
		return poller.Pending
	}
}

// Client talks to BFL with the x-key header.
type Client struct {
	http    *upstream.Client
	baseURL string
	key     string
}

// New builds a Client.
func New(hc *upstream.Client, baseURL, key string) *Client {
	return &Client{http: hc, baseURL: strings.TrimRight(baseURL, "/"), key: strings.TrimSpace(key)}
}

// NewFromConfig builds a Client from configuration.
func NewFromConfig(cfg config.Config, breakers *observability.CircuitBreakerManager) *Client {
	return New(upstream.NewFromConfig(cfg, domain.ProviderBFL, breakers, 0), cfg.BFLBaseURL, cfg.BFLAPIKey)
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.key != "" }

// Submit starts a job at {base}/v1/{endpoint}.
func (c *Client) Submit(ctx context.Context, endpoint string, payload map[string]any) (Job, error) {
	if !c.Configured() {
		return Job{}, fmt.Errorf("%w: BFL_API_KEY is not set", domain.ErrNotConfigured)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("op=bfl.Submit: marshal: %w", err)
	}
	target := c.baseURL + "/v1/" + url.PathEscape(strings.Trim(endpoint, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Job{}, fmt.Errorf("op=bfl.Submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	raw, status, err := c.send(ctx, "submit", req)
	if err != nil {
		return Job{}, err
	}
	if status < 200 || status >= 300 {
		return Job{}, domain.NewUpstreamError(domain.ProviderBFL, "submit", status,
			"BFL API error (job start): "+errorText(raw))
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("%w: bfl submit returned invalid JSON", domain.ErrBadGateway)
	}
	if job.ID == "" {
		return Job{}, fmt.Errorf("%w: BFL API did not return a job id", domain.ErrBadGateway)
	}
	return job, nil
}

// PollURL is where the job's state is read: the job's polling_url with its
// id appended when missing, else {base}/v1/get_result?id=.
func (c *Client) PollURL(job Job) string {
	id := url.QueryEscape(job.ID)
	switch {
	case job.PollingURL == "":
		return c.baseURL + "/v1/get_result?id=" + id
	case strings.Contains(job.PollingURL, "?"):
		if strings.Contains(job.PollingURL, "id="+job.ID) {
			return job.PollingURL
		}
		return job.PollingURL + "&id=" + id
	default:
		return job.PollingURL + "?id=" + id
	}
}

// Poll waits for job to settle. A 404 ends polling with domain.ErrNotFound;
// other poll failures are retried until the budget runs out. A job the
// provider reports as failed returns an UpstreamError with status 500.
func (c *Client) Poll(ctx context.Context, job Job, cfg poller.Config) (Result, error) {
	cfg.InitialDelay = true
	target := c.PollURL(job)
	fetch := func(ctx context.Context, _ int) (Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return Result{}, poller.Fatal(fmt.Errorf("op=bfl.Poll: %w", err))
		}
		raw, status, err := c.send(ctx, "poll", req)
		if err != nil {
			return Result{}, err
		}
		if status == http.StatusNotFound {
			return Result{}, poller.Fatal(domain.NewUpstreamError(domain.ProviderBFL, "poll", status,
				fmt.Sprintf("BFL API error: job %s not found while polling", job.ID)))
		}
		if status < 200 || status >= 300 {
			return Result{}, domain.NewUpstreamError(domain.ProviderBFL, "poll", status, errorText(raw))
		}
		var r Result
		if err := json.Unmarshal(raw, &r); err != nil {
			return Result{}, fmt.Errorf("op=bfl.Poll: decode: %w", err)
		}
		r.raw = raw
		return r, nil
	}
	r, res, err := poller.Poll(ctx, cfg, fetch, classify)
	if err != nil {
		return r, err
	}
	if res.Status == poller.Failed {
		detail := string(r.Error)
		if strings.TrimSpace(detail) == "" || detail == "null" {
			detail = string(r.raw)
		}
		return r, domain.NewUpstreamError(domain.ProviderBFL, "poll", http.StatusInternalServerError,
			"BFL API job failed: "+detail)
	}
	return r, nil
}

// ExtractImageURL finds the delivery URL in a finished result, checking
// result.sample, result[0].url, result.url, url and output[0] in order.
func ExtractImageURL(r Result) string {
	if len(r.Result) > 0 {
		var obj struct {
			Sample string `json:"sample"`
			URL    string `json:"url"`
		}
		if json.Unmarshal(r.Result, &obj) == nil {
			if obj.Sample != "" {
				return obj.Sample
			}
			if obj.URL != "" {
				return obj.URL
			}
		}
		var arr []struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(r.Result, &arr) == nil && len(arr) > 0 && arr[0].URL != "" {
			return arr[0].URL
		}
	}
	if r.URL != "" {
		return r.URL
	}
	if len(r.Output) > 0 {
		return r.Output[0]
	}
	return ""
}

// Download fetches the delivery URL. Failures map to domain.ErrBadGateway.
// A missing content type defaults to image/png.
func (c *Client) Download(ctx context.Context, imageURL string) (domain.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return domain.Media{}, fmt.Errorf("op=bfl.Download: %w", err)
	}
	resp, err := c.http.Do(ctx, "download", req)
	if err != nil {
		return domain.Media{}, fmt.Errorf("%w: could not download final image: %v", domain.ErrBadGateway, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return domain.Media{}, fmt.Errorf("%w: could not download final image (status %d)", domain.ErrBadGateway, resp.StatusCode)
	}
	data, err := upstream.ReadLimited(resp.Body, maxImageBytes)
	if err != nil {
		return domain.Media{}, fmt.Errorf("op=bfl.Download: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/png"
	}
	return domain.Media{Data: data, ContentType: ct}, nil
}

func (c *Client) send(ctx context.Context, op string, req *http.Request) ([]byte, int, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-key", c.key)
	resp, err := c.http.Do(ctx, op, req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("op=bfl.%s: read: %w", op, err)
	}
	return raw, resp.StatusCode, nil
}

// errorText prefers a JSON `error` string, then the whole JSON body, then
// the raw text.
func errorText(raw []byte) string {
	var parsed map[string]any
	if json.Unmarshal(raw, &parsed) == nil {
		if s, ok := parsed["error"].(string); ok && s != "" {
			return s
		}
		if b, err := json.Marshal(parsed); err == nil {
			return string(b)
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty response"
	}
	return text
}
