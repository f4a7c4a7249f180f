package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/cache"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

func TestParseFacts(t *testing.T) {
	t.Parallel()
	content := "Intro line\n- first fact here\n• second fact here\n- tiny\n-- double dash fact\n"
	facts := usecase.ParseFacts(content)
	assert.Equal(t, []string{"first fact here", "second fact here", "- double dash fact"}, facts)
	assert.Empty(t, usecase.ParseFacts(""))
}

func TestWebContext_Get_CachesResultsInRedis(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calls := 0
	var model string
	api := &fakeChat{enter: func(payload any) (json.RawMessage, error) {
		calls++
		model, _ = payload.(map[string]any)["model"].(string)
		return completion("- Berlin hat heute 20 Grad [Quelle: wetter.de]\n- Morgen regnet es [Quelle: wetter.de]"), nil
	}}
	svc := usecase.NewWebContextService(api, cache.NewRedis(rdb, "webctx:"), config.MustDefaultCatalog(), testConfig())

	wc := svc.Get(context.Background(), "k", "Wetter Berlin", "deep")
	require.Len(t, wc.Facts, 2)
	assert.Equal(t, domain.WebModeDeep, wc.Mode)
	assert.Equal(t, []string{"wetter.de"}, wc.Sources)
	assert.Equal(t, "perplexity-reasoning", model)

	again := svc.Get(context.Background(), "k", "  wetter berlin ", "deep")
	assert.Equal(t, wc.Facts, again.Facts)
	assert.Equal(t, 1, calls)
}

func TestWebContext_Get_EmptyOnFailureOrSkip(t *testing.T) {
	t.Parallel()
	api := &fakeChat{enter: func(any) (json.RawMessage, error) { return nil, errors.New("boom") }}
	svc := usecase.NewWebContextService(api, cache.NewMemory(4), config.MustDefaultCatalog(), testConfig())

	wc := svc.Get(context.Background(), "k", "news today", "light")
	assert.Empty(t, wc.Facts)
	assert.Equal(t, domain.WebModeLight, wc.Mode)

	assert.Empty(t, svc.Get(context.Background(), "k", "hello!", "light").Facts)
	assert.Empty(t, svc.Get(context.Background(), "", "news today", "light").Facts)
	assert.Len(t, api.enterReqs, 1)
}

func TestBuildContextBlockAndInject(t *testing.T) {
	t.Parallel()
	wc := domain.WebContext{
		Facts:     []string{"fact one", "fact two"},
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
		Mode:      domain.WebModeLight,
	}
	block := usecase.BuildContextBlock(wc)
	assert.Contains(t, block, `<web_context timestamp="2025-01-02T03:04:05.006Z" mode="light">`)
	assert.Contains(t, block, "        - fact one\n        - fact two")
	assert.True(t, strings.HasPrefix(block, "\n[SYSTEM MESSAGE: REAL-TIME WEB SEARCH RESULTS AVAILABLE]"))

	assert.Equal(t, "base"+block, usecase.InjectIntoSystemPrompt("base", wc))
	tagged := usecase.InjectIntoSystemPrompt("<system_prompt>x</system_prompt>", wc)
	assert.Equal(t, "<system_prompt>x"+block+"\n</system_prompt>", tagged)
	assert.Equal(t, "plain", usecase.InjectIntoSystemPrompt("plain", domain.WebContext{}))
}

func TestSmartRouter(t *testing.T) {
	t.Parallel()
	r := usecase.SmartRouter{Catalog: config.MustDefaultCatalog()}

	m, routed := r.Route("openai", "Was gibt es heute Neues?", "light")
	assert.True(t, routed)
	assert.Equal(t, "perplexity-fast", m)

	m, routed = r.Route("openai", "what is the latest release", "deep")
	assert.True(t, routed)
	assert.Equal(t, "perplexity-reasoning", m)

	m, routed = r.Route("openai", "write me a poem", "")
	assert.False(t, routed)
	assert.Equal(t, "openai", m)

	assert.False(t, usecase.SmartRouter{}.ShouldRouteToSearch("news today"))
}
