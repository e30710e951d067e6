package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/grove/internal/logger"
	"github.com/harun/grove/pkg/model"
	"github.com/harun/grove/pkg/protocol"
	"github.com/harun/grove/pkg/sandbox"
	"github.com/harun/grove/pkg/tot"
)

// Config represents the main grove configuration
type Config struct {
	// Model providers and client defaults
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Tree-of-Thought search
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Agent routing
	Router RouterConfig `json:"router" mapstructure:"router"`

	// Code execution
	Sandbox sandbox.Config `json:"sandbox" mapstructure:"sandbox"`

	// Prompt overrides
	Prompts PromptsConfig `json:"prompts" mapstructure:"prompts"`

	// Logging
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// Metrics endpoint and audit log
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// OpenTelemetry tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig holds provider profiles and client defaults
type ModelConfig struct {
	Name         string              `json:"name" mapstructure:"name"`
	MaxTokens    int                 `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries   int                 `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoff time.Duration       `json:"retry_backoff" mapstructure:"retry_backoff"`
	Cooldown     time.Duration       `json:"cooldown" mapstructure:"cooldown"`
	Profiles     []model.AuthProfile `json:"profiles" mapstructure:"profiles"`
}

// SearchConfig holds Tree-of-Thought search settings
type SearchConfig struct {
	Plans       int     `json:"plans" mapstructure:"plans"`
	Voters      int     `json:"voters" mapstructure:"voters"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxSteps    int     `json:"max_steps" mapstructure:"max_steps"` // 0 = unbounded
	RepairDepth int     `json:"repair_depth" mapstructure:"repair_depth"`
	States      string  `json:"states" mapstructure:"states"` // state table file overriding the built-in one
}

// RouterConfig holds agent routing settings
type RouterConfig struct {
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	States      string  `json:"states" mapstructure:"states"`
}

// PromptsConfig holds prompt override settings
type PromptsConfig struct {
	Dir      string        `json:"dir" mapstructure:"dir"`
	Watch    bool          `json:"watch" mapstructure:"watch"`
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
}

// MetricsConfig holds the Prometheus endpoint and audit log settings
type MetricsConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"` // empty disables the endpoint
	AuditLog string `json:"audit_log" mapstructure:"audit_log"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`

	// OTLP gRPC collector, e.g. localhost:4317
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `json:"insecure" mapstructure:"insecure"`

	// File receives finished spans as JSON lines
	File string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	client := model.DefaultConfig()
	search := tot.DefaultConfig()

	return &Config{
		Model: ModelConfig{
			Name:         client.Model,
			MaxTokens:    client.MaxTokens,
			MaxRetries:   client.MaxRetries,
			RetryBackoff: client.RetryBackoff,
			Cooldown:     client.Cooldown,
			Profiles:     []model.AuthProfile{},
		},
		Search: SearchConfig{
			Plans:       search.Plans,
			Voters:      search.Voters,
			Temperature: search.Temperature,
			MaxSteps:    search.MaxSteps,
			RepairDepth: protocol.DefaultMaxDepth,
		},
		Router: RouterConfig{
			Temperature: 0,
		},
		Sandbox: sandbox.DefaultConfig(),
		Prompts: PromptsConfig{
			Debounce: 250 * time.Millisecond,
		},
		Logging: logger.DefaultConfig(),
		Tracing: TracingConfig{
			ServiceName: "grove",
			SampleRatio: 1,
		},
	}
}

// ClientConfig returns the model client settings.
func (m ModelConfig) ClientConfig() model.Config {
	return model.Config{
		Model:        m.Name,
		MaxTokens:    m.MaxTokens,
		MaxRetries:   m.MaxRetries,
		RetryBackoff: m.RetryBackoff,
		Cooldown:     m.Cooldown,
	}
}

// EngineConfig returns the search engine settings.
func (s SearchConfig) EngineConfig() tot.Config {
	return tot.Config{
		Plans:       s.Plans,
		Voters:      s.Voters,
		Temperature: s.Temperature,
		MaxSteps:    s.MaxSteps,
	}
}

// String returns a JSON representation of the config with API keys masked
func (c *Config) String() string {
	masked := *c
	masked.Model.Profiles = make([]model.AuthProfile, len(c.Model.Profiles))
	for i, profile := range c.Model.Profiles {
		if profile.APIKey != "" {
			profile.APIKey = "***"
		}
		masked.Model.Profiles[i] = profile
	}

	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
