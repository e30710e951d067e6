package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/grove/pkg/model"
	"github.com/spf13/viper"
)

const (
	envPrefix       = "GROVE"
	defaultDirName  = ".grove"
	defaultFileName = "grove.yaml"
)

// providerKeyEnv lists the environment variables consulted for API keys when
// the config declares no profiles, in priority order.
var providerKeyEnv = []struct {
	provider string
	env      string
}{
	{"anthropic", "ANTHROPIC_API_KEY"},
	{"openai", "OPENAI_API_KEY"},
	{"gemini", "GEMINI_API_KEY"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, applies GROVE_* environment overrides and
// fills derived defaults. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := flatten(DefaultConfig())
	if err != nil {
		return nil, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		configType, err := configTypeOf(configPath)
		if err != nil {
			return nil, err
		}
		v.SetConfigType(configType)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDirName)
	}

	if len(cfg.Model.Profiles) == 0 {
		cfg.Model.Profiles = profilesFromEnv()
	}

	return cfg, nil
}

// Save writes cfg to the loader's path, as JSON or YAML by extension
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()

	configType, err := configTypeOf(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	v := viper.New()
	v.SetConfigType(configType)
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return defaultFileName
	}
	return filepath.Join(home, defaultDirName, defaultFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func configTypeOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("unsupported config file type: %s", path)
	}
}

// flatten returns the leaves of cfg keyed by dotted path, so that viper
// knows every key that an environment variable may override.
func flatten(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for key, value := range node {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			if child, ok := value.(map[string]any); ok {
				walk(path, child)
				continue
			}
			out[path] = value
		}
	}
	walk("", tree)
	return out, nil
}

func profilesFromEnv() []model.AuthProfile {
	var profiles []model.AuthProfile
	for i, p := range providerKeyEnv {
		key := os.Getenv(p.env)
		if key == "" {
			continue
		}
		profiles = append(profiles, model.AuthProfile{
			ID:       p.provider,
			Provider: p.provider,
			APIKey:   key,
			Priority: i,
		})
	}
	return profiles
}
