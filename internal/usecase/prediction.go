package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/replicate"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
)

// PredictionError is a settled prediction that did not produce a usable
// output. Status is the last Replicate status observed.
type PredictionError struct {
	Kind    error
	Message string
	Status  string
}

func (e *PredictionError) Error() string { return e.Message }
func (e *PredictionError) Unwrap() error { return e.Kind }

// PredictionService runs Replicate predictions for the generic, speech and
// password-gated routes.
type PredictionService struct {
	API         PredictionAPI
	Catalog     *config.Catalog
	Poll        poller.Config
	SpeechPoll  poller.Config
	SpeechModel string
}

// NewPredictionService builds a PredictionService with the polling budgets from cfg.
func NewPredictionService(api PredictionAPI, catalog *config.Catalog, cfg config.Config) *PredictionService {
	speech := pollerConfig(config.PollReplicateSpeech, cfg.GetPollConfig(config.PollReplicateSpeech))
	speech.StopOnFetchError = true
	s := &PredictionService{
		API:        api,
		Catalog:    catalog,
		Poll:       pollerConfig(config.PollReplicate, cfg.GetPollConfig(config.PollReplicate)),
		SpeechPoll: speech,
	}
	if catalog != nil {
		s.SpeechModel = catalog.SpeechModel
	}
	return s
}

func (s *PredictionService) configured() error {
	if s.API == nil || !s.API.Configured() {
		return fmt.Errorf("%w: Server configuration error: REPLICATE_API_KEY is missing.", domain.ErrNotConfigured)
	}
	return nil
}

// Run starts a prediction for a catalogued model and returns its output.
func (s *PredictionService) Run(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	version, ok := "", false
	if s.Catalog != nil {
		version, ok = s.Catalog.ReplicateVersion(model)
	}
	if !ok {
		var keys []string
		if s.Catalog != nil {
			keys = s.Catalog.ReplicateModelKeys()
		}
		return nil, fmt.Errorf("%w: Unknown or invalid model specified: %s. Available models: %s",
			domain.ErrInvalidArgument, model, strings.Join(keys, ", "))
	}

	p, err := s.API.Run(ctx, replicate.CreateRequest{Version: version, Input: replicate.SanitizeNumeric(input)}, s.Poll)
	reportRemoteID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamTimeout) {
			return nil, &PredictionError{
				Kind:    domain.ErrUpstreamTimeout,
				Message: "Prediction polling timed out. The task might still be running on Replicate.",
				Status:  p.Status,
			}
		}
		return nil, err
	}
	switch p.Status {
	case replicate.StatusSucceeded:
		return p.Output, nil
	case replicate.StatusFailed, replicate.StatusCanceled:
		msg := p.ErrorMessage()
		if msg == "" {
			msg = fmt.Sprintf("Prediction %s.", p.Status)
		}
		obsctx.LoggerFromContext(ctx).Warn("replicate prediction failed", slog.String("model", model), slog.String("status", p.Status))
		return nil, &PredictionError{Kind: domain.ErrUpstream, Message: msg, Status: p.Status}
	default:
		return nil, &PredictionError{Kind: domain.ErrInternal, Message: "Prediction did not reach a final state.", Status: p.Status}
	}
}

// SpeechRequest is the body of POST /api/replicate-tts.
type SpeechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// Speech synthesises text with the catalogued speech model and returns the
// audio URL. Polling stops at the first failed status read.
func (s *PredictionService) Speech(ctx context.Context, req SpeechRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", fmt.Errorf(`%w: The "text" parameter is required and cannot be empty.`, domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		return "", fmt.Errorf(`%w: The "voice_id" parameter is required.`, domain.ErrInvalidArgument)
	}
	if err := s.configured(); err != nil {
		return "", err
	}
	model := s.SpeechModel
	if model == "" {
		model = "minimax/speech-02-turbo"
	}
	p, err := s.API.Run(ctx, replicate.CreateRequest{
		ModelPath: model,
		Input: map[string]any{
			"text":                  text,
			"voice_id":              req.VoiceID,
			"emotion":               "auto",
			"language_boost":        "auto",
			"english_normalization": false,
		},
	}, s.SpeechPoll)
	reportRemoteID(ctx, p.ID)
	if err != nil && !errors.Is(err, domain.ErrUpstreamTimeout) {
		return "", err
	}
	if p.Status == replicate.StatusSucceeded && p.HasOutput() {
		var url string
		if json.Unmarshal(p.Output, &url) == nil && url != "" {
			return url, nil
		}
		return strings.Trim(string(p.Output), `"`), nil
	}
	msg := p.ErrorMessage()
	if msg == "" {
		msg = fmt.Sprintf("Prediction ended with status: %s.", p.Status)
	}
	return "", &PredictionError{Kind: domain.ErrUpstream, Message: msg, Status: p.Status}
}

// RDGR runs a password-gated model. The caller has already checked the
// password; a password field left in input is not forwarded.
func (s *PredictionService) RDGR(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	var (
		m  config.RDGRModel
		ok bool
	)
	if s.Catalog != nil {
		m, ok = s.Catalog.RDGRModel(model)
	}
	if !ok {
		var keys []string
		if s.Catalog != nil {
			keys = s.Catalog.RDGRModelKeys()
		}
		return nil, fmt.Errorf("%w: Unknown or invalid model: %s. Available: %s",
			domain.ErrInvalidArgument, model, strings.Join(keys, ", "))
	}

	clean := replicate.SanitizeRDGR(input)
	delete(clean, "password")

	cfg := s.Poll
	cfg.StopOnFetchError = true
	p, err := s.API.Run(ctx, replicate.CreateRequest{
		Version:    m.Version,
		Input:      clean,
		PreferWait: true,
	}, cfg)
	reportRemoteID(ctx, p.ID)
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return nil, &PredictionError{Kind: domain.ErrUpstreamTimeout, Message: "Prediction polling timed out.", Status: p.Status}
	case err != nil:
		return nil, err
	}
	switch p.Status {
	case replicate.StatusSucceeded:
		return p.Output, nil
	case replicate.StatusFailed, replicate.StatusCanceled:
		msg := p.ErrorMessage()
		if msg == "" {
			msg = fmt.Sprintf("Prediction %s.", p.Status)
		}
		return nil, &PredictionError{Kind: domain.ErrUpstream, Message: msg, Status: p.Status}
	default:
		return nil, &PredictionError{Kind: domain.ErrInternal, Message: "Prediction did not reach a final state.", Status: p.Status}
	}
}
