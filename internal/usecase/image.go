package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/bfl"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
)

const (
	defaultImageModel = "flux"
	gptImageModel     = "gptimage"
	kontextEndpoint   = "flux-kontext-pro"
	defaultImageSize  = 1024
)

var fallbackImageModels = []string{"flux", "turbo", "gptimage"}

// OptionalInt decodes a JSON number or numeric string. Anything else,
// including blanks, decodes to nil.
type OptionalInt struct {
	Value *int
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalInt) UnmarshalJSON(b []byte) error {
	o.Value = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	} else {
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		o.Value = &n
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		n := int(f)
		o.Value = &n
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(*o.Value)), nil
}

// ImageRequest is the body of the Pollinations image routes. Nil pointers
// take the route defaults.
type ImageRequest struct {
	Prompt      string      `json:"prompt"`
	Model       string      `json:"model"`
	Width       *int        `json:"width" validate:"omitempty,min=64,max=4096"`
	Height      *int        `json:"height" validate:"omitempty,min=64,max=4096"`
	Seed        OptionalInt `json:"seed"`
	NoLogo      *bool       `json:"nologo"`
	Enhance     bool        `json:"enhance"`
	Private     bool        `json:"private"`
	Transparent bool        `json:"transparent"`
}

func (r ImageRequest) params(model string) pollinations.ImageParams {
	p := pollinations.ImageParams{
		Prompt:      strings.TrimSpace(r.Prompt),
		Model:       model,
		Width:       defaultImageSize,
		Height:      defaultImageSize,
		Seed:        r.Seed.Value,
		NoLogo:      true,
		Enhance:     r.Enhance,
		Private:     r.Private,
		Transparent: r.Transparent,
	}
	if r.Width != nil {
		p.Width = *r.Width
	}
	if r.Height != nil {
		p.Height = *r.Height
	}
	if r.NoLogo != nil {
		p.NoLogo = *r.NoLogo
	}
	return p
}

// ImageService generates images with Pollinations and BFL.
type ImageService struct {
	API     ImageAPI
	BFL     BFLAPI
	Catalog *config.Catalog
	BFLPoll poller.Config
}

// NewImageService builds an ImageService with the BFL polling budget from cfg.
func NewImageService(api ImageAPI, b BFLAPI, catalog *config.Catalog, cfg config.Config) *ImageService {
	return &ImageService{API: api, BFL: b, Catalog: catalog, BFLPoll: pollerConfig(config.PollBFL, cfg.GetPollConfig(config.PollBFL))}
}

func pollerConfig(name string, pc config.PollConfig) poller.Config {
	return poller.Config{Name: name, Interval: pc.Interval, MaxAttempts: pc.MaxAttempts}
}

// ImageError carries the model a failed image request used, for the
// modelUsed field of error payloads.
type ImageError struct {
	Model string
	Err   error
}

func (e *ImageError) Error() string { return e.Err.Error() }
func (e *ImageError) Unwrap() error { return e.Err }

// Generate renders req with a Pollinations model (flux by default).
// gptimage is served by OpenAIImage only.
func (s *ImageService) Generate(ctx context.Context, key string, req ImageRequest) (domain.Media, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultImageModel
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.Media{}, &ImageError{Model: model, Err: fmt.Errorf("%w: Prompt is required and must be a non-empty string.", domain.ErrInvalidArgument)}
	}
	if strings.EqualFold(model, gptImageModel) {
		return domain.Media{}, &ImageError{Model: model, Err: fmt.Errorf(
			"%w: Invalid or unsupported model for Pollinations endpoint: %s. 'gptimage' should use the OpenAI endpoint.", domain.ErrInvalidArgument, model)}
	}
	return s.render(ctx, key, req, model)
}

// OpenAIImage renders req with gptimage regardless of req.Model.
func (s *ImageService) OpenAIImage(ctx context.Context, key string, req ImageRequest) (domain.Media, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.Media{}, &ImageError{Model: gptImageModel, Err: fmt.Errorf("%w: Prompt is required and must be a non-empty string.", domain.ErrInvalidArgument)}
	}
	return s.render(ctx, key, req, gptImageModel)
}

func (s *ImageService) render(ctx context.Context, key string, req ImageRequest, model string) (domain.Media, error) {
	media, err := s.API.GenerateImage(ctx, key, req.params(model))
	if err != nil {
		obsctx.LoggerFromContext(ctx).Warn("image generation failed", slog.String("model", model), slog.Any("error", err))
		return domain.Media{}, &ImageError{Model: model, Err: err}
	}
	return media, nil
}

// Models lists the supported Pollinations image models. Upstream models
// outside the supported set are dropped; failures return the supported
// set along with the error.
func (s *ImageService) Models(ctx context.Context) ([]string, error) {
	supported := fallbackImageModels
	if s.Catalog != nil && len(s.Catalog.ImageModels) > 0 {
		supported = s.Catalog.ImageModels
	}
	models, err := s.API.ImageModels(ctx)
	if err != nil {
		return supported, err
	}
	allowed := make(map[string]struct{}, len(supported))
	for _, m := range supported {
		allowed[m] = struct{}{}
	}
	out := make([]string, 0, len(models))
	for _, m := range models {
		if _, ok := allowed[m]; ok {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return supported, nil
	}
	return out, nil
}

// GenerateBFL runs a BFL job and returns the image as a data URL. A data
// URL input_image selects the kontext image-to-image endpoint; otherwise
// the requested model (flux by default) is used.
func (s *ImageService) GenerateBFL(ctx context.Context, body map[string]any) (string, error) {
	prompt, _ := body["prompt"].(string)
	model, _ := body["model"].(string)
	inputImage, _ := body["input_image"].(string)
	if strings.TrimSpace(prompt) == "" && inputImage == "" {
		return "", fmt.Errorf("%w: Prompt or image is required.", domain.ErrInvalidArgument)
	}
	if s.BFL == nil || !s.BFL.Configured() {
		return "", fmt.Errorf("%w: BFL_API_KEY is not configured.", domain.ErrNotConfigured)
	}

	payload := make(map[string]any, len(body))
	for k, v := range body {
		if k == "model" || k == "input_image" || v == nil {
			continue
		}
		payload[k] = v
	}

	var endpoint string
	switch {
	case strings.HasPrefix(inputImage, "data:"):
		endpoint = kontextEndpoint
		_, b64, _ := strings.Cut(inputImage, ",")
		payload["input_image"] = b64
	case prompt != "" && model != "":
		endpoint = model
		payload["model"] = model
	case prompt != "":
		endpoint = defaultImageModel
		payload["model"] = defaultImageModel
	default:
		return "", fmt.Errorf("%w: Invalid request configuration. Prompt or image required.", domain.ErrInvalidArgument)
	}

	lg := obsctx.LoggerFromContext(ctx).With(slog.String("endpoint", endpoint))
	job, err := s.BFL.Submit(ctx, endpoint, payload)
	if err != nil {
		return "", err
	}
	lg.Info("bfl job submitted", slog.String("bfl_job", job.ID))
	reportRemoteID(ctx, job.ID)

	res, err := s.BFL.Poll(ctx, job, s.BFLPoll)
	if err != nil {
		return "", err
	}
	imageURL := bfl.ExtractImageURL(res)
	if imageURL == "" {
		return "", fmt.Errorf("%w: No image URL found in the final BFL result.", domain.ErrInternal)
	}
	media, err := s.BFL.Download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	return upstream.DataURL(media.ContentType, media.Data), nil
}
