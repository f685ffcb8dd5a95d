package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ".memory", cfg.MemoryRoot)
	require.Equal(t, "conversations", cfg.ConversationsRoot)
}

func TestLoad_EnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory_root: from-file\n"), 0o644))

	t.Setenv("MEMORY_ROOT", "from-env")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("DEEPSEEK_BASE_URL", "https://api.deepseek.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.MemoryRoot)
	require.Equal(t, "sk-test", cfg.Providers["DEEPSEEK"].APIKey)
	require.Equal(t, "https://api.deepseek.com", cfg.Providers["DEEPSEEK"].BaseURL)
}

func TestLoad_Defaults_PromptsDirAndHTTPAddr(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "prompts", cfg.PromptsDir)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "openai", cfg.DefaultProvider)
}

func TestLoad_DefaultProviderEnvOverride(t *testing.T) {
	t.Setenv("DEFAULT_PROVIDER", "anthropic")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.DefaultProvider)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
}
