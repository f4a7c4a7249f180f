package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
	"github.com/fairyhunter13/ai-gen-gateway/pkg/textx"
)

const (
	titleModel        = "openai-fast"
	titleSystemPrompt = `You are an expert at creating concise chat titles. Based on the following messages, generate a very short title (ideally 2-4 words, maximum 5 words) that captures the main topic or question. Only return the title itself, with no prefixes like "Title:", no explanations, and no quotation marks. Just the plain text title.`
)

// TitleService names conversations.
type TitleService struct {
	API ChatAPI
}

// Generate returns a short title for the formatted conversation. Only an
// empty input is an error; provider failures yield "Chat".
func (s TitleService) Generate(ctx context.Context, key, messages string) (string, error) {
	if strings.TrimSpace(messages) == "" {
		return "", fmt.Errorf("%w: Messages cannot be empty", domain.ErrInvalidArgument)
	}
	raw, err := s.API.Chat(ctx, key, pollinations.ChatRequest{
		Model: titleModel,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: domain.TextContent(titleSystemPrompt)},
			{Role: domain.RoleUser, Content: domain.TextContent("Conversation messages:\n\n" + messages + "\n\nConcise Title:")},
		},
		Temperature: pollinations.Float(0.4),
		MaxTokens:   20,
		N:           1,
		Private:     true,
	})
	if err != nil {
		obsctx.LoggerFromContext(ctx).Warn("title generation failed", slog.Any("error", err))
		return textx.FallbackTitle, nil
	}
	reply, err := pollinations.ExtractReply(raw)
	if err != nil {
		obsctx.LoggerFromContext(ctx).Warn("title reply missing", slog.Any("error", err))
		return textx.FallbackTitle, nil
	}
	return textx.CleanTitle(reply), nil
}
