package usecase

import (
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// SmartRouter sends prompts asking for live data to a search capable model.
type SmartRouter struct {
	Catalog *config.Catalog
}

// ShouldRouteToSearch reports whether prompt matches a search trigger.
func (r SmartRouter) ShouldRouteToSearch(prompt string) bool {
	if prompt == "" || r.Catalog == nil {
		return false
	}
	return r.Catalog.MatchesSearchTrigger(prompt)
}

// LiveModel is the fast search model.
func (r SmartRouter) LiveModel() string {
	if r.Catalog != nil && r.Catalog.Routing.LiveModel != "" {
		return r.Catalog.Routing.LiveModel
	}
	return "perplexity-fast"
}

// DeepModel is the research model used for deep web mode.
func (r SmartRouter) DeepModel() string {
	if r.Catalog != nil && r.Catalog.Routing.DeepModel != "" {
		return r.Catalog.Routing.DeepModel
	}
	return "perplexity-reasoning"
}

// Route returns the model to use for prompt. The requested model is kept
// unless the prompt asks for live data.
func (r SmartRouter) Route(requested, prompt, webMode string) (model string, routed bool) {
	if !r.ShouldRouteToSearch(prompt) {
		return requested, false
	}
	if normalizeMode(webMode) == domain.WebModeDeep {
		return r.DeepModel(), true
	}
	return r.LiveModel(), true
}
