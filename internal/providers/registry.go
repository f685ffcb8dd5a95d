package providers

import (
	"fmt"

	"github.com/cih1996/AI-intelligent-agent-system/internal/config"
)

// Registry resolves a configured Provider by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds every provider named in cfg.Providers that has a
// non-empty API key. Providers with no key configured are silently
// skipped (an Agent Runtime binding to a missing provider fails at bind
// time, not at registry construction).
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{providers: map[string]Provider{}}

	if pc, ok := cfg.Providers["OPENAI"]; ok && pc.APIKey != "" {
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.Model})
		if err != nil {
			return nil, fmt.Errorf("providers: openai: %w", err)
		}
		r.providers["openai"] = p
	}

	if pc, ok := cfg.Providers["DEEPSEEK"]; ok && pc.APIKey != "" {
		p, err := NewDeepSeekProvider(OpenAIConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.Model})
		if err != nil {
			return nil, fmt.Errorf("providers: deepseek: %w", err)
		}
		r.providers["deepseek"] = p
	}

	if pc, ok := cfg.Providers["ANTHROPIC"]; ok && pc.APIKey != "" {
		p, err := NewAnthropicProvider(AnthropicConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.Model})
		if err != nil {
			return nil, fmt.Errorf("providers: anthropic: %w", err)
		}
		r.providers["anthropic"] = p
	}

	return r, nil
}

// Get returns the named provider, or an error if it was never configured.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("providers: %q is not configured", name)
	}
	return p, nil
}
