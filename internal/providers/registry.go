// Package providers implements the wire adapters that normalize each
// upstream LLM API into the shared chunk vocabulary. Every adapter builds
// provider-native requests from neutral params and decodes streaming or
// complete responses into ordered chunk sequences.
package providers

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/Davincible/omnillm/internal/pipeline"
)

// Registry manages adapter instances by provider name.
type Registry struct {
	adapters map[string]pipeline.Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]pipeline.Adapter),
	}
}

// Register adds an adapter to the registry. Names are case-insensitive.
func (r *Registry) Register(a pipeline.Adapter) {
	r.adapters[strings.ToLower(a.Name())] = a
}

// Get retrieves an adapter by provider name.
func (r *Registry) Get(name string) (pipeline.Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(name)]
	return a, ok
}

// domain mapping to provider names, used when config only carries a base URL
var domainAdapters = map[string]string{
	"api.openai.com":                    "openai",
	"openai.com":                        "openai",
	"api.anthropic.com":                 "anthropic",
	"anthropic.com":                     "anthropic",
	"generativelanguage.googleapis.com": "gemini",
	"googleapis.com":                    "gemini",
	"openrouter.ai":                     "openrouter",
	"api.openrouter.ai":                 "openrouter",
	"integrate.api.nvidia.com":          "nvidia",
	"api.nvidia.com":                    "nvidia",
}

// GetByDomain resolves an adapter from an API base URL.
func (r *Registry) GetByDomain(apiBase string) (pipeline.Adapter, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	domain := strings.ToLower(u.Hostname())
	if name, ok := domainAdapters[domain]; ok {
		if a, found := r.Get(name); found {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no provider found for domain: %s", domain)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialize registers all built-in adapters.
func (r *Registry) Initialize(logger *slog.Logger) {
	r.Register(NewOpenAI(logger))
	r.Register(NewAnthropic(logger))
	r.Register(NewGemini(logger))
	r.Register(NewOpenRouter(logger))
	r.Register(NewNvidia(logger))
}
