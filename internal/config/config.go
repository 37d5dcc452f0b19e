package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

const (
	DefaultConfigFilename = "config.json"

	// DefaultMaxToolDepth bounds tool-call recursion rounds per request.
	DefaultMaxToolDepth = 8

	// DefaultPromptToolThreshold is the tool count above which tool schemas
	// are injected into the system prompt instead of sent as native function
	// declarations. Purely a policy knob; requests can force either mode.
	DefaultPromptToolThreshold = 16

	DefaultRequestTimeoutSeconds = 300
)

// Provider configures one upstream LLM endpoint.
type Provider struct {
	Name    string   `json:"name"`
	APIBase string   `json:"api_base_url,omitempty"`
	APIKey  string   `json:"api_key"`
	Models  []string `json:"models,omitempty"`
}

// PipelineConfig holds pipeline policy knobs.
type PipelineConfig struct {
	MaxToolDepth          int `json:"max_tool_depth,omitempty"`
	PromptToolThreshold   int `json:"prompt_tool_threshold,omitempty"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`
}

// Config is the on-disk configuration.
type Config struct {
	DefaultModel string         `json:"default_model,omitempty"`
	Providers    []Provider     `json:"providers"`
	Pipeline     PipelineConfig `json:"pipeline,omitempty"`
}

// FindProvider returns the provider entry with the given name.
func (c *Config) FindProvider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// Manager loads and persists the configuration. The current config is held
// in an atomic.Value so concurrent requests read it without locking.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		cfg = &Config{}
		applyDefaults(cfg)
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	applyDefaults(cfg)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.MaxToolDepth == 0 {
		cfg.Pipeline.MaxToolDepth = DefaultMaxToolDepth
	}
	if cfg.Pipeline.PromptToolThreshold == 0 {
		cfg.Pipeline.PromptToolThreshold = DefaultPromptToolThreshold
	}
	if cfg.Pipeline.RequestTimeoutSeconds == 0 {
		cfg.Pipeline.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
}
