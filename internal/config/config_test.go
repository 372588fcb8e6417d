package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.False(t, cfg.Cache.PruneEnabled)
	assert.False(t, cfg.RemoteSandboxConfigured())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
llm:
  provider: gemini
  model: gemini-2.0-flash
sandbox:
  url: https://sandbox.internal:8443
  token: secret
  exec_timeout: 5s
pipeline:
  workers: 2
  queue_size: 8
cache:
  prune_enabled: true
  max_versions: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.True(t, cfg.Cache.PruneEnabled)
	assert.True(t, cfg.RemoteSandboxConfigured())
	assert.Equal(t, 5*time.Second, Duration(cfg.Sandbox.ExecTimeout, time.Minute))
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("MONEYWRIGHT_LLM_API_KEY", "env-key")
	t.Setenv("MONEYWRIGHT_SANDBOX_URL", "https://vm.example")
	t.Setenv("MONEYWRIGHT_SANDBOX_TOKEN", "tok")
	t.Setenv("MONEYWRIGHT_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.True(t, cfg.RemoteSandboxConfigured())
	assert.True(t, cfg.Logging.DebugMode)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad duration", func(c *Config) { c.Sandbox.ExecTimeout = "banana" }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"zero queue", func(c *Config) { c.Pipeline.QueueSize = 0 }},
		{"prune without limit", func(c *Config) { c.Cache.PruneEnabled = true; c.Cache.MaxVersions = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("not-a-duration", time.Minute))
	assert.Equal(t, 3*time.Second, Duration("3s", time.Minute))
}
