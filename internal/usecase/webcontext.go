package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
)

const (
	lightContextPrompt = `Du bist ein Fakten-Extraktor. Gib NUR 3-5 kurze, aktuelle Fakten zurück die für die Anfrage relevant sein könnten.
Format: Eine Zeile pro Fakt, mit Strichpunkt beginnen.
Beispiel:
- Bitcoin: 98.500€
- Datum heute: 22. Dezember 2024
- Wetter Berlin: 4°C, bewölkt
Keine Einleitung, keine Erklärung, nur Fakten.`

	deepContextPrompt = `Du bist ein Research-Assistent. Recherchiere gründlich und gib 8-10 relevante Fakten mit Quellen zurück.
Format:
- Fakt hier [Quelle: domain.com]
- Weiterer Fakt [Quelle: andere-domain.de]
Keine Einleitung, keine Zusammenfassung, nur Fakten mit Quellen.`
)

var sourceTag = regexp.MustCompile(`\[(?:Quelle|Source):\s*([^\]]+)\]`)

// WebContextService fetches short realtime fact lists used to ground chat
// answers. It never fails: every problem yields an empty context.
type WebContextService struct {
	API          ChatAPI
	Cache        domain.WebContextCache
	Catalog      *config.Catalog
	TTL          time.Duration
	LightTimeout time.Duration
	DeepTimeout  time.Duration
	now          func() time.Time
}

// NewWebContextService builds a WebContextService with timeouts from cfg.
func NewWebContextService(api ChatAPI, cache domain.WebContextCache, catalog *config.Catalog, cfg config.Config) *WebContextService {
	return &WebContextService{
		API:          api,
		Cache:        cache,
		Catalog:      catalog,
		TTL:          cfg.WebContextCacheTTL,
		LightTimeout: cfg.WebContextLightTimeout,
		DeepTimeout:  cfg.WebContextDeepTimeout,
		now:          time.Now,
	}
}

func normalizeMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), domain.WebModeDeep) {
		return domain.WebModeDeep
	}
	return domain.WebModeLight
}

func (s *WebContextService) empty(mode string) domain.WebContext {
	return domain.WebContext{Facts: []string{}, Timestamp: s.now().UTC(), Mode: mode}
}

// Get returns facts for query. Lookups need an API key; results with facts
// are cached per mode and normalized query.
func (s *WebContextService) Get(ctx context.Context, key, query, mode string) domain.WebContext {
	mode = normalizeMode(mode)
	if s == nil {
		return domain.WebContext{Facts: []string{}, Timestamp: time.Now().UTC(), Mode: mode}
	}
	if s.Catalog != nil && s.Catalog.SkipWebContext(query) {
		return s.empty(mode)
	}
	if strings.TrimSpace(key) == "" {
		return s.empty(mode)
	}

	ctx, span := otel.Tracer("usecase.webcontext").Start(ctx, "WebContext.Get")
	defer span.End()
	span.SetAttributes(attribute.String("web_context.mode", mode))

	lg := obsctx.LoggerFromContext(ctx)
	cacheKey := mode + ":" + strings.ToLower(strings.TrimSpace(query))
	if s.Cache != nil {
		if wc, ok, err := s.Cache.Get(ctx, cacheKey); err != nil {
			lg.Debug("web context cache read failed", slog.Any("error", err))
		} else if ok {
			span.SetAttributes(attribute.Bool("web_context.cache_hit", true))
			return wc
		}
	}

	timeout := s.LightTimeout
	if mode == domain.WebModeDeep {
		timeout = s.DeepTimeout
	}
	lookupCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	wc, err := s.fetch(lookupCtx, key, query, mode)
	if err != nil {
		lg.Warn("web context lookup failed", slog.String("mode", mode), slog.Any("error", err))
		return s.empty(mode)
	}
	span.SetAttributes(attribute.Int("web_context.facts", len(wc.Facts)))

	if len(wc.Facts) > 0 && s.Cache != nil {
		if err := s.Cache.Set(ctx, cacheKey, wc, s.TTL); err != nil {
			lg.Debug("web context cache write failed", slog.Any("error", err))
		}
	}
	return wc
}

func (s *WebContextService) fetch(ctx context.Context, key, query, mode string) (domain.WebContext, error) {
	model, system, user, maxTokens, temp := "perplexity-fast", lightContextPrompt, "Aktuelle Fakten zu: "+query, 300, 0.1
	if s.Catalog != nil && s.Catalog.Routing.LiveModel != "" {
		model = s.Catalog.Routing.LiveModel
	}
	if mode == domain.WebModeDeep {
		model, system, user, maxTokens, temp = "perplexity-reasoning", deepContextPrompt, "Recherchiere ausführlich: "+query, 800, 0.2
		if s.Catalog != nil && s.Catalog.Routing.DeepModel != "" {
			model = s.Catalog.Routing.DeepModel
		}
	}

	raw, err := s.API.EnterChat(ctx, key, map[string]any{
		"model": model,
		"messages": []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: domain.TextContent(system)},
			{Role: domain.RoleUser, Content: domain.TextContent(user)},
		},
		"max_tokens":  maxTokens,
		"temperature": temp,
	})
	if err != nil {
		return domain.WebContext{}, fmt.Errorf("op=usecase.WebContext.fetch: %w", err)
	}
	content, err := pollinations.ExtractReply(raw)
	if err != nil {
		content = ""
	}

	wc := domain.WebContext{Facts: ParseFacts(content), Timestamp: s.now().UTC(), Mode: mode}
	if mode == domain.WebModeDeep {
		wc.Sources = extractSources(wc.Facts)
	}
	return wc, nil
}

// ParseFacts keeps bullet lines ("-" or "•") longer than five characters,
// without their bullet.
func ParseFacts(content string) []string {
	facts := []string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "•") {
			continue
		}
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimPrefix(line, "•")
		line = strings.TrimSpace(line)
		if len([]rune(line)) > 5 {
			facts = append(facts, line)
		}
	}
	return facts
}

func extractSources(facts []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, f := range facts {
		m := sourceTag.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		src := strings.TrimSpace(m[1])
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}

// BuildContextBlock renders wc as the block appended to system prompts, or
// "" when there are no facts.
func BuildContextBlock(wc domain.WebContext) string {
	if len(wc.Facts) == 0 {
		return ""
	}
	lines := make([]string, len(wc.Facts))
	for i, f := range wc.Facts {
		lines[i] = "        - " + f
	}
	var b strings.Builder
	b.WriteString("\n[SYSTEM MESSAGE: REAL-TIME WEB SEARCH RESULTS AVAILABLE]\n")
	b.WriteString("You have been provided with the following real-time search results to answer the user's question.\n")
	b.WriteString("Do NOT claim you cannot access the internet. Use these facts:\n\n")
	fmt.Fprintf(&b, "<web_context timestamp=%q mode=%q>\n", wc.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"), wc.Mode)
	b.WriteString("    <facts>\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n    </facts>\n")
	b.WriteString("    <usage_rules>\n")
	b.WriteString("        NUTZE diese Fakten NUR wenn relevant für die Anfrage.\n")
	b.WriteString("        IGNORIERE bei kreativen/emotionalen Themen.\n")
	b.WriteString("        safety_protocol hat IMMER Vorrang.\n")
	b.WriteString("    </usage_rules>\n")
	b.WriteString("</web_context>")
	return b.String()
}

// InjectIntoSystemPrompt places the context block before a closing
// </system_prompt> tag when present, otherwise appends it.
func InjectIntoSystemPrompt(system string, wc domain.WebContext) string {
	block := BuildContextBlock(wc)
	if block == "" {
		return system
	}
	if strings.Contains(system, "</system_prompt>") {
		return strings.Replace(system, "</system_prompt>", block+"\n</system_prompt>", 1)
	}
	return system + block
}
