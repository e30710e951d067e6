package sandbox

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSandbox records requests and returns a canned result.
type mockSandbox struct {
	result   ExecuteResult
	err      error
	requests []ExecuteRequest
	source   string
}

func (m *mockSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	m.requests = append(m.requests, req)
	if len(req.Args) > 0 {
		data, _ := os.ReadFile(req.Args[len(req.Args)-1])
		m.source = string(data)
	}
	return m.result, m.err
}

func (m *mockSandbox) Start(ctx context.Context) error { return nil }
func (m *mockSandbox) Stop(ctx context.Context) error  { return nil }
func (m *mockSandbox) IsRunning() bool                 { return true }
func (m *mockSandbox) GetConfig() Config               { return DefaultConfig() }

func TestCodeExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("should write the code and run the interpreter", func(t *testing.T) {
		sb := &mockSandbox{result: ExecuteResult{Stdout: []byte("6\n")}}
		executor := NewCodeExecutor(sb, WithWorkDir(t.TempDir()))

		outcome, err := executor.Execute(ctx, "Python", "print(1+2+3)\n")
		require.NoError(t, err)
		assert.Equal(t, "6\n", outcome.Stdout)
		assert.False(t, outcome.Failed())

		require.Len(t, sb.requests, 1)
		assert.Equal(t, "python3", sb.requests[0].Command)
		assert.True(t, strings.HasSuffix(sb.requests[0].Args[0], "main.py"))
		assert.Equal(t, "print(1+2+3)\n", sb.source)
	})

	t.Run("should report unsupported languages as stderr", func(t *testing.T) {
		sb := &mockSandbox{}
		executor := NewCodeExecutor(sb, WithWorkDir(t.TempDir()))

		outcome, err := executor.Execute(ctx, "cobol", "DISPLAY 'HI'.")
		require.NoError(t, err)
		assert.True(t, outcome.Failed())
		assert.Contains(t, outcome.Stderr, "unsupported language")
		assert.Empty(t, sb.requests)
	})

	t.Run("should report timeouts as stderr", func(t *testing.T) {
		sb := &mockSandbox{result: ExecuteResult{ExitCode: -1}, err: ErrExecutionTimeout}
		executor := NewCodeExecutor(sb, WithWorkDir(t.TempDir()))

		outcome, err := executor.Execute(ctx, "bash", "sleep 100")
		require.NoError(t, err)
		assert.Contains(t, outcome.Stderr, "timed out")
	})

	t.Run("should report silent non-zero exits", func(t *testing.T) {
		sb := &mockSandbox{result: ExecuteResult{ExitCode: 3}}
		executor := NewCodeExecutor(sb, WithWorkDir(t.TempDir()))

		outcome, err := executor.Execute(ctx, "sh", "exit 3")
		require.NoError(t, err)
		assert.Equal(t, "exit status 3", outcome.Stderr)
	})

	t.Run("should surface sandbox failures", func(t *testing.T) {
		sb := &mockSandbox{err: ErrSandboxNotRunning}
		executor := NewCodeExecutor(sb, WithWorkDir(t.TempDir()))

		_, err := executor.Execute(ctx, "sh", "true")
		assert.ErrorIs(t, err, ErrSandboxNotRunning)
	})

	t.Run("should honour custom interpreters", func(t *testing.T) {
		sb := &mockSandbox{}
		executor := NewCodeExecutor(sb, WithWorkDir(t.TempDir()), WithInterpreter("Lua", Interpreter{Command: "lua", Extension: ".lua"}))

		_, err := executor.Execute(ctx, "lua", "print(1)")
		require.NoError(t, err)
		assert.Equal(t, "lua", sb.requests[0].Command)
	})

	t.Run("should run shell code on the host", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FilesystemAccess.AllowedPaths = nil
		cfg.ResourceLimits.Timeout = 5 * time.Second
		sb, err := NewHostSandbox(cfg)
		require.NoError(t, err)
		require.NoError(t, sb.Start(ctx))
		defer func() { _ = sb.Stop(ctx) }()

		executor := NewCodeExecutor(sb, WithWorkDir(t.TempDir()))

		outcome, err := executor.Execute(ctx, "sh", "echo out; echo err >&2")
		require.NoError(t, err)
		assert.Equal(t, "out\n", outcome.Stdout)
		assert.Equal(t, "err\n", outcome.Stderr)
		assert.True(t, outcome.Failed())
	})
}
