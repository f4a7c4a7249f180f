package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// RDGRModel is a password-gated Replicate model.
type RDGRModel struct {
	OwnerModel string `yaml:"owner_model"`
	Version    string `yaml:"version"`
}

// MistralModel describes one Mistral API model family.
type MistralModel struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	ContextWindow int    `yaml:"context_window"`
	MaxTokens     int    `yaml:"max_tokens"`
	Multimodal    bool   `yaml:"multimodal"`
}

// Catalog holds provider model versions, prompt guidelines and model mappings.
type Catalog struct {
	ReplicateModels map[string]string    `yaml:"replicate_models"`
	RDGRModels      map[string]RDGRModel `yaml:"rdgr_models"`
	SpeechModel     string               `yaml:"speech_model"`
	ImageModels     []string             `yaml:"image_models"`
	OpenAIVoices    []string             `yaml:"openai_voices"`
	Enhancement     struct {
		Aliases    map[string]string `yaml:"aliases"`
		Default    string            `yaml:"default"`
		Guidelines map[string]string `yaml:"guidelines"`
	} `yaml:"enhancement"`
	Mistral struct {
		Default          string                  `yaml:"default"`
		Models           map[string]MistralModel `yaml:"models"`
		Direct           map[string]string       `yaml:"direct"`
		FromPollinations map[string]string       `yaml:"from_pollinations"`
	} `yaml:"mistral"`
	Routing struct {
		LiveModel      string   `yaml:"live_model"`
		DeepModel      string   `yaml:"deep_model"`
		SearchTriggers []string `yaml:"search_triggers"`
		WebContextSkip []string `yaml:"web_context_skip"`
	} `yaml:"routing"`

	searchTriggers []*regexp.Regexp
	skipPatterns   []*regexp.Regexp
}

// LoadCatalog parses the catalog at path, or the embedded catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	content := embeddedCatalog
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("op=config.LoadCatalog: %w", err)
		}
		// #nosec G304 -- operator supplied path
		content, err = os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("op=config.LoadCatalog: %w", err)
		}
	}
	return ParseCatalog(content)
}

// ParseCatalog decodes YAML catalog content and compiles its patterns.
func ParseCatalog(content []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(content, &c); err != nil {
		return nil, fmt.Errorf("op=config.ParseCatalog: %w", err)
	}
	var err error
	if c.searchTriggers, err = compileAll(c.Routing.SearchTriggers); err != nil {
		return nil, fmt.Errorf("op=config.ParseCatalog: search trigger: %w", err)
	}
	if c.skipPatterns, err = compileAll(c.Routing.WebContextSkip); err != nil {
		return nil, fmt.Errorf("op=config.ParseCatalog: web context skip: %w", err)
	}
	if c.Mistral.Default == "" {
		c.Mistral.Default = "mistral-medium"
	}
	if _, ok := c.Mistral.Models[c.Mistral.Default]; !ok {
		return nil, fmt.Errorf("op=config.ParseCatalog: default mistral model %q not defined", c.Mistral.Default)
	}
	return &c, nil
}

// MustDefaultCatalog returns the embedded catalog and panics if it is invalid.
func MustDefaultCatalog() *Catalog {
	c, err := ParseCatalog(embeddedCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// ReplicateVersion returns the pinned version for a Replicate model key.
func (c *Catalog) ReplicateVersion(key string) (string, bool) {
	v, ok := c.ReplicateModels[key]
	return v, ok
}

// ReplicateModelKeys lists known Replicate model keys in stable order.
func (c *Catalog) ReplicateModelKeys() []string {
	return sortedKeys(c.ReplicateModels)
}

// RDGRModel returns the gated model config for key.
func (c *Catalog) RDGRModel(key string) (RDGRModel, bool) {
	m, ok := c.RDGRModels[key]
	return m, ok
}

// RDGRModelKeys lists gated model keys in stable order.
func (c *Catalog) RDGRModelKeys() []string {
	keys := make([]string, 0, len(c.RDGRModels))
	for k := range c.RDGRModels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Guidelines returns the enhancement guidelines for a UI model id.
func (c *Catalog) Guidelines(modelID string) string {
	key := modelID
	if alias, ok := c.Enhancement.Aliases[modelID]; ok {
		key = alias
	}
	if key == "default" {
		return strings.TrimSpace(c.Enhancement.Default)
	}
	if g, ok := c.Enhancement.Guidelines[key]; ok {
		return strings.TrimSpace(g)
	}
	return strings.TrimSpace(c.Enhancement.Default)
}

// ResolveMistral maps a requested model id onto a Mistral model family. Direct
// ids win over the Pollinations mapping; unknown ids use the default family.
func (c *Catalog) ResolveMistral(modelID string) (string, MistralModel) {
	key := modelID
	if _, ok := c.Mistral.Models[key]; !ok {
		if direct, ok := c.Mistral.Direct[modelID]; ok {
			key = direct
		} else if mapped, ok := c.Mistral.FromPollinations[modelID]; ok {
			key = mapped
		} else {
			key = c.Mistral.Default
		}
	}
	m, ok := c.Mistral.Models[key]
	if !ok {
		key = c.Mistral.Default
		m = c.Mistral.Models[key]
	}
	return key, m
}

// KnownMistral reports whether modelID resolves through the Mistral tables
// rather than the default fallback.
func (c *Catalog) KnownMistral(modelID string) bool {
	if _, ok := c.Mistral.Models[modelID]; ok {
		return true
	}
	_, ok := c.Mistral.Direct[modelID]
	return ok
}

// IsOpenAIVoice reports whether voice belongs to the OpenAI voice set.
func (c *Catalog) IsOpenAIVoice(voice string) bool {
	for _, v := range c.OpenAIVoices {
		if v == voice {
			return true
		}
	}
	return false
}

// MatchesSearchTrigger reports whether prompt asks for live data.
func (c *Catalog) MatchesSearchTrigger(prompt string) bool {
	for _, re := range c.searchTriggers {
		if re.MatchString(prompt) {
			return true
		}
	}
	return false
}

// SkipWebContext reports whether query is small talk not worth a lookup.
func (c *Catalog) SkipWebContext(query string) bool {
	trimmed := strings.TrimSpace(query)
	if len([]rune(trimmed)) < 3 {
		return true
	}
	for _, re := range c.skipPatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
