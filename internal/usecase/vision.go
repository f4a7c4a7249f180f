package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

const (
	defaultVisionPrompt = "Analysiere dieses Bild detailliert. Beschreibe was du siehst, was darauf zu sehen ist, und gib relevante Details an."
	defaultVisionModel  = "claude"
	noAnalysis          = "Keine Analyse verfügbar."
)

// VisionRequest is the body of POST /api/vision.
type VisionRequest struct {
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
	ModelID  string `json:"modelId"`
}

// VisionResult is a successful image analysis.
type VisionResult struct {
	Success   bool   `json:"success"`
	Analysis  string `json:"analysis"`
	Model     string `json:"model"`
	Timestamp string `json:"timestamp"`
}

// VisionService describes images with a multimodal chat model.
type VisionService struct {
	API ChatAPI
	// Enter routes requests to the authenticated chat endpoint.
	Enter bool
	now   func() time.Time
}

// NewVisionService builds a VisionService. enter selects the authenticated
// endpoint for requests made with the server key.
func NewVisionService(api ChatAPI, enter bool) *VisionService {
	return &VisionService{API: api, Enter: enter, now: time.Now}
}

// Timestamp is the current time as reported in vision answers.
func (s *VisionService) Timestamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Analyze asks the model about req.ImageURL. byop marks a key supplied by
// the caller, which always uses the authenticated endpoint.
func (s *VisionService) Analyze(ctx context.Context, key string, byop bool, req VisionRequest) (VisionResult, error) {
	if strings.TrimSpace(req.ImageURL) == "" {
		return VisionResult{}, fmt.Errorf("%w: imageUrl is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(key) == "" {
		return VisionResult{}, fmt.Errorf("%w: no Pollinations API key configured", domain.ErrNotConfigured)
	}
	prompt := firstNonBlank(req.Prompt, defaultVisionPrompt)
	model := firstNonBlank(req.ModelID, defaultVisionModel)

	msg := domain.ChatMessage{Role: domain.RoleUser, Content: domain.MessageContent{Parts: []domain.ContentPart{
		{Type: "text", Text: prompt},
		{Type: "image_url", ImageURL: &domain.ImageURL{URL: req.ImageURL}},
	}}}

	var (
		text string
		err  error
	)
	if byop || s.Enter {
		text, err = s.enter(ctx, key, model, msg)
	} else {
		text, err = s.legacy(ctx, key, model, msg)
	}
	if err != nil {
		return VisionResult{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if strings.TrimSpace(text) == "" {
		text = noAnalysis
	}
	return VisionResult{Success: true, Analysis: text, Model: model, Timestamp: s.Timestamp()}, nil
}

func (s *VisionService) enter(ctx context.Context, key, model string, msg domain.ChatMessage) (string, error) {
	raw, err := s.API.EnterChat(ctx, key, map[string]any{
		"model":       model,
		"messages":    []domain.ChatMessage{msg},
		"max_tokens":  2000,
		"temperature": 0.1,
	})
	if err != nil {
		return "", err
	}
	return pollinations.ExtractReply(raw)
}

func (s *VisionService) legacy(ctx context.Context, key, model string, msg domain.ChatMessage) (string, error) {
	raw, err := s.API.Chat(ctx, key, pollinations.ChatRequest{
		Model:       model,
		Messages:    []domain.ChatMessage{msg},
		MaxTokens:   2000,
		Temperature: pollinations.Float(0.1),
	})
	if err != nil {
		return "", err
	}
	return pollinations.ExtractReply(raw)
}
