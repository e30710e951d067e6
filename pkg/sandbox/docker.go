package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	containerPrefix = "grove-exec-"
	containerLabel  = "dev.grove.exec"
	cleanupTimeout  = 10 * time.Second
)

// commandRunner runs a host command; run is the production implementation.
type commandRunner func(ctx context.Context, timeout time.Duration, stdin []byte, name string, args []string) (ExecuteResult, error)

func runCommand(ctx context.Context, timeout time.Duration, stdin []byte, name string, args []string) (ExecuteResult, error) {
	return run(ctx, timeout, stdin, name, args, nil)
}

// DockerSandbox runs each fragment in its own throwaway container. Containers
// are named and labelled so that timed out or cancelled runs can be removed.
type DockerSandbox struct {
	config  Config
	running bool
	mu      sync.RWMutex

	exec commandRunner
}

// NewDockerSandbox creates a docker sandbox.
func NewDockerSandbox(config Config) (*DockerSandbox, error) {
	if config.Runtime == "" {
		config.Runtime = RuntimeDocker
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &DockerSandbox{config: config, exec: runCommand}, nil
}

// Ping checks that the docker daemon answers.
func (d *DockerSandbox) Ping(ctx context.Context) error {
	result, err := d.exec(ctx, 2*time.Second, nil, "docker", []string{"version", "--format", "{{.Server.Version}}"})
	if err == nil && result.Error == nil && result.ExitCode == 0 {
		return nil
	}
	if err == nil {
		err = result.Error
	}
	if err == nil {
		err = fmt.Errorf("exit status %d: %s", result.ExitCode, strings.TrimSpace(string(result.Stderr)))
	}
	return fmt.Errorf("docker is not available: %w", err)
}

// Start marks the sandbox as ready. The daemon is first contacted by Execute.
func (d *DockerSandbox) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrSandboxAlreadyRunning
	}

	log.Info().
		Str("runtime", string(RuntimeDocker)).
		Str("image", d.config.Docker.Image).
		Dur("timeout", d.config.ResourceLimits.Timeout).
		Msg("Starting docker sandbox")

	d.running = true
	return nil
}

// Stop removes containers left behind by interrupted runs.
func (d *DockerSandbox) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrSandboxNotRunning
	}
	d.running = false
	d.mu.Unlock()

	log.Info().Msg("Stopping docker sandbox")

	listed, err := d.exec(ctx, cleanupTimeout, nil, "docker", []string{"ps", "-aq", "--filter", "label=" + containerLabel})
	if err != nil || listed.ExitCode != 0 {
		return nil
	}
	ids := strings.Fields(string(listed.Stdout))
	if len(ids) == 0 {
		return nil
	}

	log.Warn().Int("containers", len(ids)).Msg("Removing leftover exec containers")
	if _, err := d.exec(ctx, cleanupTimeout, nil, "docker", append([]string{"rm", "-f"}, ids...)); err != nil {
		return fmt.Errorf("remove leftover containers: %w", err)
	}
	return nil
}

// IsRunning returns whether the sandbox is currently running.
func (d *DockerSandbox) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// GetConfig returns sandbox configuration.
func (d *DockerSandbox) GetConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Execute runs the command in a new container. The container is force
// removed when the run times out or ctx is cancelled.
func (d *DockerSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	d.mu.RLock()
	if !d.running {
		d.mu.RUnlock()
		return ExecuteResult{}, ErrSandboxNotRunning
	}
	cfg := d.config
	d.mu.RUnlock()

	if strings.TrimSpace(req.Command) == "" {
		return ExecuteResult{}, ErrCommandRequired
	}
	if err := checkFilesystemAccess(cfg.FilesystemAccess, req.WorkingDir); err != nil {
		return ExecuteResult{}, err
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = cfg.ResourceLimits.Timeout
	}

	name := containerPrefix + uuid.NewString()
	result, err := d.exec(ctx, timeout, req.Stdin, "docker", runArgs(cfg, name, req))
	if err != nil {
		d.remove(name)
		return result, err
	}

	log.Debug().
		Str("container", name).
		Str("image", cfg.Docker.Image).
		Str("command", req.Command).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Command executed in docker sandbox")

	return result, nil
}

// remove force removes a container. It runs detached from the request
// context, which is usually already done.
func (d *DockerSandbox) remove(name string) {
	if _, err := d.exec(context.Background(), cleanupTimeout, nil, "docker", []string{"rm", "-f", name}); err != nil {
		log.Warn().Err(err).Str("container", name).Msg("Failed to remove exec container")
	}
}

// runArgs builds the docker run arguments for one request.
func runArgs(cfg Config, name string, req ExecuteRequest) []string {
	args := []string{"run", "--rm", "--init", "--name", name, "--label", containerLabel + "=1"}
	args = append(args, "--network", networkMode(cfg))
	args = append(args, limitArgs(cfg.ResourceLimits)...)
	args = append(args, securityArgs(cfg)...)
	args = append(args, mountArgs(cfg.FilesystemAccess, req.WorkingDir)...)

	if wd := strings.TrimSpace(req.WorkingDir); wd != "" {
		args = append(args, "-w", filepath.Clean(wd))
	}
	args = append(args, envArgs(req.Env)...)
	if len(req.Stdin) > 0 {
		args = append(args, "-i")
	}

	image := strings.TrimSpace(cfg.Docker.Image)
	if image == "" {
		image = DefaultConfig().Docker.Image
	}
	args = append(args, image, req.Command)
	return append(args, req.Args...)
}

func networkMode(cfg Config) string {
	if mode := strings.TrimSpace(cfg.Docker.Network); mode != "" {
		return mode
	}
	if cfg.NetworkAccess.Enabled {
		return "bridge"
	}
	return "none"
}

func limitArgs(limits ResourceLimits) []string {
	var args []string
	if limits.MaxCPU > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(float64(limits.MaxCPU)/100.0, 'f', 2, 64))
	}
	if limits.MaxMemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", limits.MaxMemoryMB))
	}
	if limits.MaxProcesses > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(limits.MaxProcesses))
	}
	return args
}

func securityArgs(cfg Config) []string {
	var args []string
	if cfg.FilesystemAccess.ReadOnly {
		args = append(args, "--read-only")
	}
	if user := strings.TrimSpace(cfg.Docker.User); user != "" {
		args = append(args, "--user", user)
	}
	for _, opt := range nonEmpty(cfg.Docker.SecurityOpt) {
		args = append(args, "--security-opt", opt)
	}
	for _, capability := range nonEmpty(cfg.Docker.CapDrop) {
		args = append(args, "--cap-drop", capability)
	}
	return append(args, cfg.Docker.ExtraArgs...)
}

// mountArgs bind mounts the working dir and the allowed paths at the same
// location inside the container, so host paths stay valid.
func mountArgs(access FilesystemAccess, workingDir string) []string {
	mode := "rw"
	if access.ReadOnly {
		mode = "ro"
	}

	mounts := make(map[string]struct{})
	for _, path := range nonEmpty(append([]string{workingDir}, access.AllowedPaths...)) {
		mounts[filepath.Clean(path)] = struct{}{}
	}

	paths := make([]string, 0, len(mounts))
	for path := range mounts {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	args := make([]string, 0, 2*len(paths))
	for _, path := range paths {
		args = append(args, "-v", fmt.Sprintf("%s:%s:%s", path, path, mode))
	}
	return args
}

func envArgs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	args := make([]string, 0, 2*len(keys))
	for _, key := range keys {
		args = append(args, "-e", key+"="+env[key])
	}
	return args
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
