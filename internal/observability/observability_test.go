package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/grove/internal/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	RecordVote("plan")
	RecordModelCall("anthropic", 150*time.Millisecond, true)
	RecordRepairAttempt()
	RecordRepairOutcome(true)
	RecordTransition("tot", "Plan")
	SetActiveAgents(2)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `grove_votes_total{kind="plan"}`)
	assert.Contains(t, string(body), `grove_model_calls_total{provider="anthropic",status="success"}`)
	assert.Contains(t, string(body), `grove_state_transitions_total{machine="tot",state="Plan"}`)
	assert.Contains(t, string(body), "grove_agents_active 2")
}

func TestAuditLogger(t *testing.T) {
	t.Run("should write events with trace fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.jsonl")
		require.NoError(t, InitAuditLogger(path))

		ctx := tracing.WithFields(context.Background(), tracing.Fields{TraceID: "trace-1", TaskID: "task-1"})
		RecordRouteAudit(ctx, "sorter", "created", map[string]any{"task": "sort"})
		RecordSearchAudit(ctx, "sorter", "failed", nil)
		require.NoError(t, GetAuditLogger().Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 2)

		var first map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, "route:created", first["action"])
		assert.Equal(t, "sorter", first["actor"])
		assert.Equal(t, "trace-1", first["trace_id"])
		assert.Equal(t, "task-1", first["task_id"])
		assert.NotContains(t, first, "run_id")
		assert.Equal(t, map[string]any{"task": "sort"}, first["metadata"])

		assert.Contains(t, lines[1], `"status":"failed"`)
		assert.NotContains(t, lines[1], "metadata")
	})

	t.Run("should drop events after close", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.jsonl")
		require.NoError(t, InitAuditLogger(path))
		require.NoError(t, GetAuditLogger().Close())

		RecordAgentAudit(context.Background(), "agent:create", "sorter", nil)
		require.NoError(t, GetAuditLogger().Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}
