package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Runtime selects where guest code runs.
type Runtime string

const (
	// RuntimeHost runs commands as host processes with a minimal environment
	RuntimeHost Runtime = "host"
	// RuntimeDocker runs commands in ephemeral containers
	RuntimeDocker Runtime = "docker"
)

// Config defines sandbox configuration.
type Config struct {
	Runtime          Runtime          `json:"runtime" mapstructure:"runtime"`
	Docker           DockerConfig     `json:"docker" mapstructure:"docker"`
	ResourceLimits   ResourceLimits   `json:"resource_limits" mapstructure:"resource_limits"`
	FilesystemAccess FilesystemAccess `json:"filesystem_access" mapstructure:"filesystem_access"`
	NetworkAccess    NetworkAccess    `json:"network_access" mapstructure:"network_access"`
}

// DockerConfig configures the docker runtime.
type DockerConfig struct {
	Image       string   `json:"image" mapstructure:"image"`
	Network     string   `json:"network" mapstructure:"network"`
	User        string   `json:"user" mapstructure:"user"`
	SecurityOpt []string `json:"security_opt" mapstructure:"security_opt"`
	CapDrop     []string `json:"cap_drop" mapstructure:"cap_drop"`
	ExtraArgs   []string `json:"extra_args" mapstructure:"extra_args"`
}

// ResourceLimits defines resource constraints for sandboxed execution.
type ResourceLimits struct {
	// MaxCPU limits CPU usage (percentage, 0-100)
	MaxCPU int `json:"max_cpu" mapstructure:"max_cpu"`

	MaxMemoryMB  int           `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	MaxProcesses int           `json:"max_processes" mapstructure:"max_processes"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
}

// FilesystemAccess defines filesystem access rules for working directories.
type FilesystemAccess struct {
	AllowedPaths []string `json:"allowed_paths" mapstructure:"allowed_paths"`
	DeniedPaths  []string `json:"denied_paths" mapstructure:"denied_paths"`
	ReadOnly     bool     `json:"read_only" mapstructure:"read_only"`
}

// NetworkAccess controls container networking.
type NetworkAccess struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// ExecuteRequest represents a sandbox execution request.
type ExecuteRequest struct {
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string
	Stdin      []byte
	Timeout    time.Duration
}

// ExecuteResult represents a sandbox execution result.
type ExecuteResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration

	// Error is a start failure that produced no exit code
	Error error
}

// Sandbox runs commands in isolation.
type Sandbox interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	GetConfig() Config
}

// DefaultConfig returns a default sandbox configuration.
func DefaultConfig() Config {
	return Config{
		Runtime: RuntimeHost,
		Docker: DockerConfig{
			Image:       "python:3.12-slim",
			SecurityOpt: []string{"no-new-privileges"},
			CapDrop:     []string{"ALL"},
		},
		ResourceLimits: ResourceLimits{
			MaxCPU:       50,
			MaxMemoryMB:  512,
			MaxProcesses: 64,
			Timeout:      30 * time.Second,
		},
		FilesystemAccess: FilesystemAccess{
			AllowedPaths: []string{"/tmp"},
			DeniedPaths:  []string{"/etc", "/sys", "/proc"},
		},
	}
}

// ValidateConfig validates a sandbox configuration.
func ValidateConfig(cfg Config) error {
	switch cfg.Runtime {
	case RuntimeHost:
	case RuntimeDocker:
		if cfg.Docker.Image == "" {
			return ErrDockerImageRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRuntime, cfg.Runtime)
	}

	if cfg.ResourceLimits.MaxCPU < 0 || cfg.ResourceLimits.MaxCPU > 100 {
		return ErrInvalidCPULimit
	}
	if cfg.ResourceLimits.MaxMemoryMB < 0 {
		return ErrInvalidMemoryLimit
	}
	if cfg.ResourceLimits.MaxProcesses < 0 {
		return ErrInvalidProcessLimit
	}
	if cfg.ResourceLimits.Timeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// New creates a sandbox for the configured runtime.
func New(cfg Config) (Sandbox, error) {
	switch cfg.Runtime {
	case RuntimeDocker:
		return NewDockerSandbox(cfg)
	case RuntimeHost, "":
		cfg.Runtime = RuntimeHost
		return NewHostSandbox(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRuntime, cfg.Runtime)
	}
}
