package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, RuntimeHost, cfg.Runtime)
	assert.Equal(t, 50, cfg.ResourceLimits.MaxCPU)
	assert.Equal(t, 512, cfg.ResourceLimits.MaxMemoryMB)
	assert.Equal(t, 30*time.Second, cfg.ResourceLimits.Timeout)
	assert.False(t, cfg.NetworkAccess.Enabled)
	assert.NotEmpty(t, cfg.Docker.Image)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"should reject unknown runtimes", func(c *Config) { c.Runtime = "vm" }, ErrInvalidRuntime},
		{"should require a docker image", func(c *Config) { c.Runtime = RuntimeDocker; c.Docker.Image = "" }, ErrDockerImageRequired},
		{"should reject cpu above 100", func(c *Config) { c.ResourceLimits.MaxCPU = 101 }, ErrInvalidCPULimit},
		{"should reject negative memory", func(c *Config) { c.ResourceLimits.MaxMemoryMB = -1 }, ErrInvalidMemoryLimit},
		{"should reject negative processes", func(c *Config) { c.ResourceLimits.MaxProcesses = -1 }, ErrInvalidProcessLimit},
		{"should reject negative timeout", func(c *Config) { c.ResourceLimits.Timeout = -time.Second }, ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, ValidateConfig(cfg), tt.want)
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("should build a host sandbox by default", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Runtime = ""

		sb, err := New(cfg)
		require.NoError(t, err)
		assert.IsType(t, &HostSandbox{}, sb)
		assert.Equal(t, RuntimeHost, sb.GetConfig().Runtime)
	})

	t.Run("should build a docker sandbox", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Runtime = RuntimeDocker

		sb, err := New(cfg)
		require.NoError(t, err)
		assert.IsType(t, &DockerSandbox{}, sb)
	})

	t.Run("should reject unknown runtimes", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Runtime = "vm"

		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrInvalidRuntime)
	})
}

func TestCheckFilesystemAccess(t *testing.T) {
	access := FilesystemAccess{
		AllowedPaths: []string{"/tmp", "/home"},
		DeniedPaths:  []string{"/etc", "/sys"},
	}

	t.Run("should allow configured paths", func(t *testing.T) {
		assert.NoError(t, checkFilesystemAccess(access, "/tmp/test"))
		assert.NoError(t, checkFilesystemAccess(access, "/home/user"))
		assert.NoError(t, checkFilesystemAccess(access, ""))
	})

	t.Run("should deny other paths", func(t *testing.T) {
		assert.ErrorIs(t, checkFilesystemAccess(access, "/etc/passwd"), ErrFilesystemAccessDenied)
		assert.ErrorIs(t, checkFilesystemAccess(access, "/var/lib"), ErrFilesystemAccessDenied)
	})
}
