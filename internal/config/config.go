// Package config loads parser-engine configuration from a YAML file with
// environment variable overrides. Environment always wins over file values so
// deployments can inject credentials without editing config on disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all parser engine configuration.
type Config struct {
	// LLM generation collaborator
	LLM LLMConfig `yaml:"llm"`

	// Remote sandbox micro-VM service
	Sandbox SandboxConfig `yaml:"sandbox"`

	// SQLite-backed key-value store
	Store StoreConfig `yaml:"store"`

	// Parser-code cache policy
	Cache CacheConfig `yaml:"cache"`

	// Statement processing worker pool
	Pipeline PipelineConfig `yaml:"pipeline"`

	// HTTP surface
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the code generation collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// SandboxConfig configures the execution backends. When URL and Token are
// both set the remote isolated backend is used; otherwise execution falls
// back to the constrained in-process interpreter.
type SandboxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Timeout     string `yaml:"timeout"`      // HTTP round-trip budget
	ExecTimeout string `yaml:"exec_timeout"` // Wall-clock budget for the code itself
}

// StoreConfig configures the key-value store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// CacheConfig configures parser-code cache policy. Pruning is off by default:
// the cache keeps every version as an audit trail of format drift.
type CacheConfig struct {
	PruneEnabled bool `yaml:"prune_enabled"`
	MaxVersions  int  `yaml:"max_versions"`
}

// PipelineConfig configures the statement worker pool.
type PipelineConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "120s",
		},
		Sandbox: SandboxConfig{
			Timeout:     "45s",
			ExecTimeout: "15s",
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(".moneywright", "config.db"),
		},
		Cache: CacheConfig{
			PruneEnabled: false,
			MaxVersions:  20,
		},
		Pipeline: PipelineConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:17777",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, layering file values over defaults and
// environment overrides over both. A missing file is not an error; the
// defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps MONEYWRIGHT_* variables onto config fields.
func (c *Config) applyEnvOverrides() {
	overrides := map[string]*string{
		"MONEYWRIGHT_LLM_PROVIDER":  &c.LLM.Provider,
		"MONEYWRIGHT_LLM_API_KEY":   &c.LLM.APIKey,
		"MONEYWRIGHT_LLM_MODEL":     &c.LLM.Model,
		"MONEYWRIGHT_LLM_BASE_URL":  &c.LLM.BaseURL,
		"MONEYWRIGHT_SANDBOX_URL":   &c.Sandbox.URL,
		"MONEYWRIGHT_SANDBOX_TOKEN": &c.Sandbox.Token,
		"MONEYWRIGHT_DB_PATH":       &c.Store.DatabasePath,
		"MONEYWRIGHT_LISTEN_ADDR":   &c.Server.ListenAddr,
	}
	for key, target := range overrides {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	if v := os.Getenv("MONEYWRIGHT_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// Validate checks durations and pool sizing.
func (c *Config) Validate() error {
	for name, val := range map[string]string{
		"llm.timeout":          c.LLM.Timeout,
		"sandbox.timeout":      c.Sandbox.Timeout,
		"sandbox.exec_timeout": c.Sandbox.ExecTimeout,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline.queue_size must be >= 1, got %d", c.Pipeline.QueueSize)
	}
	if c.Cache.PruneEnabled && c.Cache.MaxVersions < 1 {
		return fmt.Errorf("cache.max_versions must be >= 1 when pruning is enabled")
	}
	return nil
}

// Duration parses a duration field, falling back to def when unset.
func Duration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

// RemoteSandboxConfigured reports whether the isolated backend can be used.
func (c *Config) RemoteSandboxConfigured() bool {
	return c.Sandbox.URL != "" && c.Sandbox.Token != ""
}
