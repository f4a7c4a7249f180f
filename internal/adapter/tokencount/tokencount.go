// Package tokencount estimates prompt sizes with tiktoken so chat history can
// be trimmed to a model's context window before it is sent upstream.
package tokencount

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// Overhead per chat message in OpenAI-compatible encodings, plus the reply
// primer appended once per request.
const (
	tokensPerMessage = 4
	replyPrimer      = 3
)

// Counter counts tokens with cl100k_base, the closest public encoding for the
// supported chat models. When the encoding cannot be loaded it falls back to
// a four-characters-per-token estimate.
type Counter struct {
	once  sync.Once
	count func(string) int
}

// NewCounter creates a tiktoken-backed counter. The encoding is loaded on
// first use.
func NewCounter() *Counter { return &Counter{} }

// NewCounterWith creates a counter using fn to count tokens.
func NewCounterWith(fn func(string) int) *Counter {
	c := &Counter{count: fn}
	c.once.Do(func() {})
	return c
}

// Estimate is the character-based fallback used when no encoding is available.
func Estimate(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		return 1
	}
	return n
}

func (c *Counter) load() {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using estimate", slog.Any("error", err))
			c.count = Estimate
			return
		}
		c.count = func(s string) int { return len(enc.Encode(s, nil, nil)) }
	})
}

// CountTokens counts the tokens of text.
func (c *Counter) CountTokens(text string) int {
	c.load()
	return c.count(text)
}

// CountMessage counts one chat message including role and framing overhead.
func (c *Counter) CountMessage(m domain.ChatMessage) int {
	return tokensPerMessage + c.CountTokens(m.Role) + c.CountTokens(m.Content.PlainText())
}

// CountMessages counts a whole request.
func (c *Counter) CountMessages(msgs []domain.ChatMessage) int {
	total := replyPrimer
	for _, m := range msgs {
		total += c.CountMessage(m)
	}
	return total
}

// TrimToBudget drops the oldest non-system messages until the request fits
// in budget tokens. System messages and the final message are always kept,
// so the result may still exceed budget. Returns the kept messages and the
// number dropped.
func (c *Counter) TrimToBudget(msgs []domain.ChatMessage, budget int) ([]domain.ChatMessage, int) {
	if budget <= 0 || len(msgs) == 0 {
		return msgs, 0
	}
	sizes := make([]int, len(msgs))
	total := replyPrimer
	for i, m := range msgs {
		sizes[i] = c.CountMessage(m)
		total += sizes[i]
	}
	drop := make([]bool, len(msgs))
	dropped := 0
	for i := 0; i < len(msgs)-1 && total > budget; i++ {
		if msgs[i].Role == domain.RoleSystem {
			continue
		}
		drop[i] = true
		total -= sizes[i]
		dropped++
	}
	if dropped == 0 {
		return msgs, 0
	}
	out := make([]domain.ChatMessage, 0, len(msgs)-dropped)
	for i, m := range msgs {
		if !drop[i] {
			out = append(out, m)
		}
	}
	return out, dropped
}
