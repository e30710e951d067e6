package sandbox

import "errors"

// Configuration errors.
var (
	ErrInvalidRuntime      = errors.New("invalid sandbox runtime")
	ErrDockerImageRequired = errors.New("docker runtime needs an image")
	ErrInvalidCPULimit     = errors.New("cpu limit must be within 0-100")
	ErrInvalidMemoryLimit  = errors.New("memory limit must not be negative")
	ErrInvalidProcessLimit = errors.New("process limit must not be negative")
	ErrInvalidTimeout      = errors.New("timeout must not be negative")
)

// Execution errors.
var (
	ErrSandboxNotRunning      = errors.New("sandbox is not running")
	ErrSandboxAlreadyRunning  = errors.New("sandbox is already running")
	ErrCommandRequired        = errors.New("command is required")
	ErrFilesystemAccessDenied = errors.New("filesystem access denied")

	// ErrExecutionTimeout is returned when guest code outlives its timeout.
	// CodeExecutor turns it into guest stderr.
	ErrExecutionTimeout = errors.New("execution timed out")
)
