package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/harun/grove/pkg/sandbox"
)

var (
	validProviders = []string{"anthropic", "openai", "gemini"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a provider name
func (v *Validator) ValidateProvider(provider string) error {
	if !slices.Contains(validProviders, provider) {
		return fmt.Errorf("invalid provider %q (must be one of: %s)", provider, strings.Join(validProviders, ", "))
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates a sampling temperature
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if !slices.Contains(validLogLevels, level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLogLevels, ", "))
	}
	return nil
}

// ValidateAddr validates a host:port listen address
func (v *Validator) ValidateAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and returns every problem
// found
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	ids := make(map[string]bool)
	for i, profile := range cfg.Model.Profiles {
		if profile.ID == "" {
			errs = append(errs, fmt.Errorf("model profile %d: id is required", i))
		} else if ids[profile.ID] {
			errs = append(errs, fmt.Errorf("model profile %d: duplicate id %s", i, profile.ID))
		}
		ids[profile.ID] = true

		if err := v.ValidateProvider(profile.Provider); err != nil {
			errs = append(errs, fmt.Errorf("model profile %d (%s): %w", i, profile.ID, err))
			continue
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errs = append(errs, fmt.Errorf("model profile %d (%s): %w", i, profile.ID, err))
		}
	}
	if cfg.Model.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Model.MaxTokens); err != nil {
			errs = append(errs, fmt.Errorf("model: %w", err))
		}
	}
	if cfg.Model.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("model.max_retries must be >= 0"))
	}

	if err := cfg.Search.EngineConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("search: %w", err))
	}
	if cfg.Search.RepairDepth < 0 {
		errs = append(errs, fmt.Errorf("search.repair_depth must be >= 0"))
	}

	if err := v.ValidateTemperature(cfg.Router.Temperature); err != nil {
		errs = append(errs, fmt.Errorf("router: %w", err))
	}

	if err := sandbox.ValidateConfig(cfg.Sandbox); err != nil {
		errs = append(errs, fmt.Errorf("sandbox: %w", err))
	}

	if cfg.Prompts.Watch && cfg.Prompts.Dir == "" {
		errs = append(errs, fmt.Errorf("prompts.watch requires prompts.dir"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if cfg.Metrics.Addr != "" {
		if err := v.ValidateAddr(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", cfg.Tracing.SampleRatio))
	}

	return errs
}
