package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// SearchResult is a web search answer. Data is the raw result array when
// Type is "results", otherwise the answer text.
type SearchResult struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SearchService runs Pollinations web searches.
type SearchService struct {
	API SearchAPI
}

// Search runs query and classifies the answer.
func (s SearchService) Search(ctx context.Context, key, query string) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{}, fmt.Errorf("%w: Query is required and must be a non-empty string.", domain.ErrInvalidArgument)
	}
	text, err := s.API.Search(ctx, key, query)
	if err != nil {
		return SearchResult{}, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err == nil {
		return SearchResult{Type: "results", Data: items}, nil
	}
	return SearchResult{Type: "text", Data: strings.TrimSpace(text)}, nil
}
