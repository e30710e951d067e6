package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/grove/internal/observability"
	"github.com/rs/zerolog"
)

// Outcome is the result of running a code fragment. A guest failure is
// reported only through Stderr.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Failed reports whether the guest produced an error.
func (o Outcome) Failed() bool {
	return o.Stderr != ""
}

// Interpreter runs a source file of one language.
type Interpreter struct {
	Command   string
	Args      []string
	Extension string
}

// DefaultInterpreters maps language tags of fenced code blocks to the
// commands that run them.
func DefaultInterpreters() map[string]Interpreter {
	python := Interpreter{Command: "python3", Extension: ".py"}
	shell := Interpreter{Command: "sh", Extension: ".sh"}
	bash := Interpreter{Command: "bash", Extension: ".sh"}
	node := Interpreter{Command: "node", Extension: ".js"}

	return map[string]Interpreter{
		"python":     python,
		"python3":    python,
		"py":         python,
		"sh":         shell,
		"shell":      shell,
		"bash":       bash,
		"javascript": node,
		"js":         node,
		"node":       node,
		"go":         {Command: "go", Args: []string{"run"}, Extension: ".go"},
		"ruby":       {Command: "ruby", Extension: ".rb"},
	}
}

// CodeExecutor writes code fragments to a scratch directory and runs them in
// a sandbox.
type CodeExecutor struct {
	sandbox      Sandbox
	workDir      string
	interpreters map[string]Interpreter
	logger       zerolog.Logger
}

// ExecutorOption configures a CodeExecutor.
type ExecutorOption func(*CodeExecutor)

// WithWorkDir sets the scratch directory for source files. It must be
// reachable by the sandbox.
func WithWorkDir(dir string) ExecutorOption {
	return func(e *CodeExecutor) {
		e.workDir = dir
	}
}

// WithInterpreter registers or replaces the interpreter for language.
func WithInterpreter(language string, interpreter Interpreter) ExecutorOption {
	return func(e *CodeExecutor) {
		e.interpreters[strings.ToLower(language)] = interpreter
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *CodeExecutor) {
		e.logger = logger
	}
}

// NewCodeExecutor creates an executor over a started sandbox.
func NewCodeExecutor(sb Sandbox, opts ...ExecutorOption) *CodeExecutor {
	e := &CodeExecutor{
		sandbox:      sb,
		workDir:      os.TempDir(),
		interpreters: DefaultInterpreters(),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs code written in language. Guest failures, unknown languages
// and timeouts come back as Stderr; the error is reserved for sandbox
// failures.
func (e *CodeExecutor) Execute(ctx context.Context, language, code string) (Outcome, error) {
	language = strings.ToLower(strings.TrimSpace(language))

	interpreter, ok := e.interpreters[language]
	if !ok {
		observability.RecordExecution(language, 0, false)
		return Outcome{Stderr: fmt.Sprintf("unsupported language: %q", language), ExitCode: -1}, nil
	}

	dir, err := os.MkdirTemp(e.workDir, "grove-exec-")
	if err != nil {
		return Outcome{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "main"+interpreter.Extension)
	if err := os.WriteFile(file, []byte(code), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write source: %w", err)
	}

	args := append(append([]string(nil), interpreter.Args...), file)
	result, err := e.sandbox.Execute(ctx, ExecuteRequest{
		Command:    interpreter.Command,
		Args:       args,
		WorkingDir: dir,
	})

	outcome := Outcome{
		Stdout:   string(result.Stdout),
		Stderr:   string(result.Stderr),
		ExitCode: result.ExitCode,
		Duration: result.Duration,
	}

	switch {
	case errors.Is(err, ErrExecutionTimeout):
		timeout := e.sandbox.GetConfig().ResourceLimits.Timeout
		outcome.Stderr = appendLine(outcome.Stderr, fmt.Sprintf("execution timed out after %s", timeout))
	case err != nil:
		return outcome, fmt.Errorf("execute %s code: %w", language, err)
	case result.Error != nil:
		outcome.Stderr = appendLine(outcome.Stderr, result.Error.Error())
	case result.ExitCode != 0 && outcome.Stderr == "":
		outcome.Stderr = fmt.Sprintf("exit status %d", result.ExitCode)
	}

	observability.RecordExecution(language, outcome.Duration, !outcome.Failed())
	e.logger.Debug().
		Str("language", language).
		Int("exit_code", outcome.ExitCode).
		Dur("duration", outcome.Duration).
		Bool("failed", outcome.Failed()).
		Msg("Code executed")

	return outcome, nil
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}
