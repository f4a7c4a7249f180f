package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/mistral"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
)

// ChatService forwards chat completions to Pollinations and falls back to
// Mistral when Pollinations is unavailable.
type ChatService struct {
	API     ChatAPI
	Mistral MistralAPI
	Web     *WebContextService
	Router  SmartRouter
	now     func() time.Time
}

// NewChatService builds a ChatService. mistral and web may be nil.
func NewChatService(api ChatAPI, m MistralAPI, web *WebContextService, router SmartRouter) *ChatService {
	return &ChatService{API: api, Mistral: m, Web: web, Router: router, now: time.Now}
}

// CompletionRequest is the body of POST /api/chat/completion.
type CompletionRequest struct {
	Messages     []domain.ChatMessage `json:"messages" validate:"omitempty,dive"`
	ModelID      string               `json:"modelId"`
	SystemPrompt string               `json:"systemPrompt"`
	System       string               `json:"system"`
	WebBrowsing  bool                 `json:"webBrowsing"`
	WebMode      string               `json:"webMode" validate:"omitempty,oneof=light deep"`
	SmartRouting bool                 `json:"smartRouting"`
	// APIKey is a caller supplied Pollinations key; it wins over the
	// request header and the environment key.
	APIKey       string               `json:"apiKey" validate:"omitempty,max=512,printascii"`
}

// Completion is a provider answer in the OpenAI chat completion shape.
type Completion struct {
	Body     json.RawMessage
	Provider string
	Model    string
}

// Complete runs one chat completion. Pollinations answers are returned
// verbatim; a Mistral fallback answer is re-shaped to match them.
func (s *ChatService) Complete(ctx context.Context, key string, req CompletionRequest) (Completion, error) {
	if len(req.Messages) == 0 || strings.TrimSpace(req.ModelID) == "" {
		return Completion{}, fmt.Errorf("%w: Missing required fields: messages and modelId", domain.ErrInvalidArgument)
	}
	ctx, span := otel.Tracer("usecase.chat").Start(ctx, "ChatService.Complete")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)
	if k := strings.TrimSpace(req.APIKey); k != "" {
		key = k
	}
	system := firstNonBlank(req.SystemPrompt, req.System)
	prompt := lastUserText(req.Messages)
	model := req.ModelID

	routed := false
	if req.SmartRouting {
		model, routed = s.Router.Route(model, prompt, req.WebMode)
		if routed {
			lg.Info("chat routed to search model", slog.String("requested", req.ModelID), slog.String("model", model))
		}
	}
	if req.WebBrowsing && !routed && s.Web != nil {
		wc := s.Web.Get(ctx, key, prompt, req.WebMode)
		system = InjectIntoSystemPrompt(system, wc)
		span.SetAttributes(attribute.Int("chat.web_facts", len(wc.Facts)))
	}
	span.SetAttributes(attribute.String("chat.model", model))

	raw, err := s.API.Chat(ctx, key, pollinations.ChatRequest{
		Model:    model,
		Messages: req.Messages,
		System:   strings.TrimSpace(system),
	})
	if err == nil {
		return Completion{Body: raw, Provider: domain.ProviderPollinations, Model: model}, nil
	}
	if !domain.IsRetryable(err) || s.Mistral == nil || !s.Mistral.Configured() {
		return Completion{}, err
	}

	lg.Warn("pollinations chat failed, falling back to mistral", slog.String("model", model), slog.Any("error", err))
	observability.RecordFallback(domain.ProviderPollinations, domain.ProviderMistral)
	reply, merr := s.Mistral.Chat(ctx, mistral.Request{
		ModelID:      model,
		Messages:     req.Messages,
		SystemPrompt: strings.TrimSpace(system),
	})
	if merr != nil {
		lg.Error("mistral fallback failed", slog.Any("error", merr))
		return Completion{}, errors.Join(err, merr)
	}
	body, merr := s.openAIShape(reply)
	if merr != nil {
		return Completion{}, merr
	}
	return Completion{Body: body, Provider: domain.ProviderMistral, Model: reply.Model}, nil
}

type completionChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completionBody struct {
	ID       string             `json:"id"`
	Object   string             `json:"object"`
	Created  int64              `json:"created"`
	Model    string             `json:"model"`
	Provider string             `json:"provider"`
	Choices  []completionChoice `json:"choices"`
	Usage    *completionUsage   `json:"usage,omitempty"`
}

func (s *ChatService) openAIShape(reply domain.ChatReply) (json.RawMessage, error) {
	now := s.now()
	choice := completionChoice{FinishReason: "stop"}
	choice.Message.Role = domain.RoleAssistant
	choice.Message.Content = reply.Text
	body := completionBody{
		ID:       fmt.Sprintf("mistral-%d", now.UnixNano()),
		Object:   "chat.completion",
		Created:  now.Unix(),
		Model:    reply.Model,
		Provider: domain.ProviderMistral,
		Choices:  []completionChoice{choice},
	}
	if reply.Usage != nil {
		body.Usage = &completionUsage{
			PromptTokens:     reply.Usage.Prompt,
			CompletionTokens: reply.Usage.Completion,
			TotalTokens:      reply.Usage.Total,
		}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.ChatService.openAIShape: %w", err)
	}
	return b, nil
}

// ReplyRequest is an internal single-answer chat call.
type ReplyRequest struct {
	ModelID      string
	Messages     []domain.ChatMessage
	SystemPrompt string
	MaxTokens    int
}

// Reply prepends the system prompt as a system message and returns the
// trimmed reply text. Requests are private and not streamed.
func (s *ChatService) Reply(ctx context.Context, key string, req ReplyRequest) (string, error) {
	if len(req.Messages) == 0 || strings.TrimSpace(req.ModelID) == "" {
		return "", fmt.Errorf("%w: messages and modelId are required", domain.ErrInvalidArgument)
	}
	msgs := make([]domain.ChatMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: domain.TextContent(req.SystemPrompt)})
	}
	msgs = append(msgs, req.Messages...)

	raw, err := s.API.Chat(ctx, key, pollinations.ChatRequest{
		Model:       req.ModelID,
		Messages:    msgs,
		Temperature: pollinations.Float(1.0),
		MaxTokens:   req.MaxTokens,
		Private:     true,
		Stream:      pollinations.Bool(false),
	})
	if err != nil {
		return "", err
	}
	text, err := pollinations.ExtractReply(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBadGateway, err)
	}
	return text, nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func lastUserText(msgs []domain.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return strings.TrimSpace(msgs[i].Content.PlainText())
		}
	}
	return ""
}
