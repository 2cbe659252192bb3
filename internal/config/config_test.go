package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, 5, cfg.Engine.Concurrency)
	assert.True(t, cfg.Engine.ClearOnRerun())
	assert.Equal(t, 10*time.Minute, cfg.Engine.StaleAfter)
	assert.Equal(t, "X-User-ID", cfg.Auth.UserHeader)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Provider.OpenAI.BaseURL)
}

func TestLoadConfig_ParsesDurationsAndFlags(t *testing.T) {
	path := writeConfig(t, `
engine:
  concurrency: 3
  clear_prior_results_on_rerun: false
  stale_after: 90s
provider:
  timeout: 5s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.Concurrency)
	assert.False(t, cfg.Engine.ClearOnRerun())
	assert.Equal(t, 90*time.Second, cfg.Engine.StaleAfter)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "oa-key")
	t.Setenv("ANTHROPIC_API_KEY", "ant-key")
	t.Setenv("STORAGE_SECRET_KEY", "secret")

	path := writeConfig(t, "provider:\n  openai:\n    api_key: from-file\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "oa-key", cfg.Provider.OpenAI.APIKey)
	assert.Equal(t, "ant-key", cfg.Provider.Anthropic.APIKey)
	assert.Equal(t, "secret", cfg.Storage.SecretKey)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown database driver", "database:\n  driver: oracle\n"},
		{"unknown storage driver", "storage:\n  driver: ftp\n"},
		{"unknown provider", "provider:\n  default: mystery\n"},
		{"negative concurrency", "engine:\n  concurrency: -1\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
