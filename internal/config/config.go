// Package config loads the orchestration core's static configuration:
// provider credentials, storage roots, and the MCP server registry.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds the credentials and endpoint for one model provider,
// overridable via <PROVIDER>_API_KEY / <PROVIDER>_BASE_URL / <PROVIDER>_MODEL /
// <PROVIDER>_USE_PROXY / <PROVIDER>_PROXY_URL environment variables.
type ProviderConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	UseProxy bool   `yaml:"use_proxy"`
	ProxyURL string `yaml:"proxy_url"`
}

// Config is the top-level process configuration.
type Config struct {
	// MemoryRoot is the directory under which per-conversation memory
	// category files are written. Defaults to ".memory".
	MemoryRoot string `yaml:"memory_root"`
	// ConversationsRoot is the directory under which per-conversation
	// session directories are written. Defaults to "conversations".
	ConversationsRoot string `yaml:"conversations_root"`
	// MCPConfigPath points at the mcp.json server registry (spec §6).
	MCPConfigPath string `yaml:"mcp_config_path"`
	// PromptsDir is the directory holding the seven agent prompt
	// template files (spec §1: "the prompt-text files loaded from disk"
	// are an external collaborator; only their presence and placeholder
	// set are the core's concern).
	PromptsDir string `yaml:"prompts_dir"`
	// HTTPAddr is the listen address for the httpapi surface.
	HTTPAddr string `yaml:"http_addr"`
	// DefaultProvider names the providers.Registry entry ("openai",
	// "deepseek", "anthropic") every agent binds to. The orchestration
	// core talks to exactly one configured model backend per process
	// (spec §9 carries no per-agent provider routing).
	DefaultProvider string `yaml:"default_provider"`
	// Providers maps a recognized provider name (OPENAI, DEEPSEEK) to its
	// configuration.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// recognizedProviders are the provider names this module resolves env
// overrides for. OPENAI and DEEPSEEK are the two spec.md §6 names
// explicitly; ANTHROPIC is carried as an additional provider backend
// (see SPEC_FULL.md DOMAIN STACK) using the identical env-var shape.
var recognizedProviders = []string{"OPENAI", "DEEPSEEK", "ANTHROPIC"}

// Default returns a Config with the process-working-directory defaults
// from spec.md §6.
func Default() *Config {
	return &Config{
		MemoryRoot:        ".memory",
		ConversationsRoot: "conversations",
		MCPConfigPath:     "mcp.json",
		PromptsDir:        "prompts",
		HTTPAddr:          ":8080",
		DefaultProvider:   "openai",
		Providers:         map[string]ProviderConfig{},
	}
}

// Load reads a YAML config file (if path is non-empty and exists) and then
// overlays environment variable overrides, mirroring the teacher's
// load-then-env-override idiom.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("MEMORY_ROOT")); v != "" {
		cfg.MemoryRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("CONVERSATIONS_ROOT")); v != "" {
		cfg.ConversationsRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_CONFIG_PATH")); v != "" {
		cfg.MCPConfigPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PROMPTS_DIR")); v != "" {
		cfg.PromptsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_PROVIDER")); v != "" {
		cfg.DefaultProvider = v
	}

	for _, name := range recognizedProviders {
		pc := cfg.Providers[name]
		if v := strings.TrimSpace(os.Getenv(name + "_API_KEY")); v != "" {
			pc.APIKey = v
		}
		if v := strings.TrimSpace(os.Getenv(name + "_BASE_URL")); v != "" {
			pc.BaseURL = v
		}
		if v := strings.TrimSpace(os.Getenv(name + "_MODEL")); v != "" {
			pc.Model = v
		}
		if v := strings.TrimSpace(os.Getenv(name + "_USE_PROXY")); v != "" {
			pc.UseProxy = v == "true" || v == "1"
		}
		if v := strings.TrimSpace(os.Getenv(name + "_PROXY_URL")); v != "" {
			pc.ProxyURL = v
		}
		cfg.Providers[name] = pc
	}
}
