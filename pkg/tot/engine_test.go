package tot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/harun/grove/pkg/model"
	"github.com/harun/grove/pkg/prompt"
	"github.com/harun/grove/pkg/protocol"
	"github.com/harun/grove/pkg/sandbox"
	"github.com/harun/grove/pkg/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every system prompt starts with the state name so the completer can tell
// calls apart.
const testPrompts = `
prompts:
  Plan:
    system: "Plan {{.task}}"
    user: "step {{.step_num}}"
  PlanVote:
    system: "PlanVote {{.task}} {{.exec_history}}"
    user: "{{.step_num}} {{.step_plan}}"
  Propose:
    system: "Propose {{.task}}"
    user: "implement {{.step_num}}"
  ProposeVote:
    system: "ProposeVote {{.task}}"
    user: "{{.step_num}} {{.step_plan}} {{.step_implementation}}"
  PlanErrorFix:
    system: "PlanErrorFix {{.task}} {{.error}}"
    user: "fix {{.step_num}} {{.output}} {{.error}}"
  ExecVote:
    system: "ExecVote {{.task}}"
    user: "{{.step_num}} {{.output}} {{.error}} {{.step_plan}} {{.step_implementation}}"
`

type scriptedCompleter struct {
	mu       sync.Mutex
	calls    map[string]int
	requests map[string][]model.Request
	reply    func(state string, n int, request model.Request) string
}

func newScriptedCompleter(reply func(state string, n int, request model.Request) string) *scriptedCompleter {
	return &scriptedCompleter{
		calls:    make(map[string]int),
		requests: make(map[string][]model.Request),
		reply:    reply,
	}
}

func (s *scriptedCompleter) Complete(ctx context.Context, request model.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := strings.Fields(request.System)[0]
	n := s.calls[state]
	s.calls[state]++
	s.requests[state] = append(s.requests[state], request)
	return s.reply(state, n, request), nil
}

type mockExecutor struct {
	outcomes []sandbox.Outcome
	calls    []string
}

func (m *mockExecutor) Execute(ctx context.Context, language, code string) (sandbox.Outcome, error) {
	m.calls = append(m.calls, language+":"+code)
	outcome := m.outcomes[0]
	if len(m.outcomes) > 1 {
		m.outcomes = m.outcomes[1:]
	}
	return outcome, nil
}

func scoreReply(score int) string {
	var b strings.Builder
	for _, category := range Categories {
		fmt.Fprintf(&b, "<%s><reason>ok</reason><score>%d</score></%s>", category, score, category)
	}
	return b.String()
}

// lastUser returns the user turn before the assistant prefill.
func lastUser(request model.Request) string {
	return request.Messages[len(request.Messages)-2].Content
}

func defaultReply(plans int) func(state string, n int, request model.Request) string {
	return func(state string, n int, request model.Request) string {
		switch state {
		case "Plan", "PlanErrorFix":
			return fmt.Sprintf("plan-%d", n%plans)
		case "PlanVote", "ProposeVote":
			return scoreReply(5)
		case "Propose":
			return "```sh\necho done\n```"
		case "ExecVote":
			return "<complete>yes</complete>"
		}
		return ""
	}
}

func newTestEngine(t *testing.T, completer model.Completer, executor Executor, cfg Config) *Engine {
	t.Helper()
	prompts, err := prompt.Parse([]byte(testPrompts))
	require.NoError(t, err)

	engine, err := New(Dependencies{
		Completer: completer,
		Executor:  executor,
		Prompts:   prompts,
	}, cfg)
	require.NoError(t, err)
	return engine
}

func testTask() *protocol.Map {
	return protocol.MapOf("title", "print done", "language", "sh")
}

func paths(transitions []statemachine.Dispatch) []string {
	out := make([]string, 0, len(transitions))
	for _, d := range transitions {
		out = append(out, d.To)
	}
	return out
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should choose the plan every voter prefers", func(t *testing.T) {
		base := defaultReply(3)
		completer := newScriptedCompleter(func(state string, n int, request model.Request) string {
			if state == "PlanVote" {
				if strings.Contains(lastUser(request), "plan-1") {
					return scoreReply(9)
				}
				return scoreReply(4)
			}
			return base(state, n, request)
		})
		executor := &mockExecutor{outcomes: []sandbox.Outcome{{Stdout: "done\n"}}}
		engine := newTestEngine(t, completer, executor, Config{Plans: 3, Voters: 2, Temperature: 0.7})

		result, err := engine.Run(ctx, testTask())
		require.NoError(t, err)

		require.NotEmpty(t, result.Selections)
		first := result.Selections[0]
		assert.Equal(t, "plan", first.Kind)
		assert.Equal(t, 1, first.Step)
		assert.Equal(t, 1, first.Index)
		assert.Equal(t, Scores{9, 9, 9, 9}, first.Scores[1])
		assert.Equal(t, Scores{4, 4, 4, 4}, first.Scores[0])

		// every stream proposes on top of the winning plan
		require.Len(t, completer.requests["Propose"], 3)
		for _, request := range completer.requests["Propose"] {
			assert.Equal(t, "<step_1>plan-1</step_1>", request.Messages[1].Content)
			assert.Equal(t, []string{"</step_1>"}, request.StopSequences)
			assert.Equal(t, 0.7, request.Temperature)
		}

		assert.Equal(t, 3*2, completer.calls["PlanVote"])
		assert.Equal(t, 3*2, completer.calls["ProposeVote"])
		assert.Equal(t, 2, completer.calls["ExecVote"])

		assert.Equal(t, 1, result.Steps)
		assert.Equal(t, "sh", result.Language)
		assert.Equal(t, "echo done\n", result.Code)
		assert.Equal(t, "done\n", result.Output)
		assert.Equal(t, 1.0, result.YesFraction)
		assert.Contains(t, result.ExecHistory, "<plan>plan-1</plan>")
		assert.Contains(t, result.ExecHistory, "<std_output>done\n</std_output>")
		assert.Equal(t, []string{
			"PlanVote", "SumPlanVotes", "ChoosePlan", "Propose", "ProposeVote",
			"SumProposeVotes", "ChooseProposition", "Exec", "ExecVote", "SumExecVote", "Done",
		}, paths(result.Transitions))
	})

	t.Run("should prefill and stop at the step tags", func(t *testing.T) {
		completer := newScriptedCompleter(defaultReply(2))
		executor := &mockExecutor{outcomes: []sandbox.Outcome{{Stdout: "done\n"}}}
		engine := newTestEngine(t, completer, executor, Config{Plans: 2, Voters: 1, Temperature: 0.7})

		_, err := engine.Run(ctx, testTask())
		require.NoError(t, err)

		plan := completer.requests["Plan"][0]
		assert.Equal(t, "Plan <title>print done</title><language>sh</language>", plan.System)
		assert.Equal(t, model.AssistantMessage("<step_1>"), plan.Messages[len(plan.Messages)-1])

		verdict := completer.requests["ExecVote"][0]
		assert.Equal(t, []string{"</output>"}, verdict.StopSequences)
		assert.Equal(t, model.AssistantMessage("<output>"), verdict.Messages[len(verdict.Messages)-1])
		assert.Contains(t, lastUser(verdict), "plan-0")
		assert.Contains(t, lastUser(verdict), "echo done")
	})

	t.Run("should route execution errors through another planning round", func(t *testing.T) {
		completer := newScriptedCompleter(defaultReply(2))
		executor := &mockExecutor{outcomes: []sandbox.Outcome{
			{Stderr: "boom"},
			{Stdout: "done\n"},
		}}
		engine := newTestEngine(t, completer, executor, Config{Plans: 2, Voters: 2, Temperature: 0.7})

		result, err := engine.Run(ctx, testTask())
		require.NoError(t, err)

		visited := paths(result.Transitions)
		i := indexOf(visited, "PlanErrorFix")
		require.GreaterOrEqual(t, i, 1)
		assert.Equal(t, "Exec", visited[i-1])
		assert.Equal(t, "PlanVote", visited[i+1])
		assert.Equal(t, "Exec", result.Transitions[i].From)

		assert.Equal(t, 2, result.Steps)
		assert.Len(t, executor.calls, 2)
		require.Len(t, completer.requests["PlanErrorFix"], 2)
		assert.Contains(t, lastUser(completer.requests["PlanErrorFix"][0]), "boom")
		assert.Contains(t, result.ExecHistory, "<std_error>boom</std_error>")
		assert.Contains(t, result.ExecHistory, "<step_2>")

		// plan votes after the fix are scoped to the new step
		votes := completer.requests["PlanVote"]
		last := votes[len(votes)-1]
		assert.Equal(t, []string{"</step_2>"}, last.StopSequences)
	})

	t.Run("should treat an exact half as incomplete", func(t *testing.T) {
		base := defaultReply(1)
		completer := newScriptedCompleter(func(state string, n int, request model.Request) string {
			if state == "ExecVote" {
				if n%2 == 0 {
					return "<complete>yes</complete>"
				}
				return "<complete>no</complete>"
			}
			return base(state, n, request)
		})
		executor := &mockExecutor{outcomes: []sandbox.Outcome{{Stdout: "done\n"}}}
		engine := newTestEngine(t, completer, executor, Config{Plans: 1, Voters: 2, Temperature: 0.7, MaxSteps: 1})

		_, err := engine.Run(ctx, testTask())
		assert.ErrorIs(t, err, ErrStepLimit)
		assert.Equal(t, 2, completer.calls["ExecVote"])
	})

	t.Run("should finish on a strict majority", func(t *testing.T) {
		base := defaultReply(1)
		completer := newScriptedCompleter(func(state string, n int, request model.Request) string {
			if state == "ExecVote" {
				if n == 2 {
					return "<complete>no</complete>"
				}
				return "<complete> YES </complete>"
			}
			return base(state, n, request)
		})
		executor := &mockExecutor{outcomes: []sandbox.Outcome{{Stdout: "done\n"}}}
		engine := newTestEngine(t, completer, executor, Config{Plans: 1, Voters: 3, Temperature: 0.7, MaxSteps: 1})

		result, err := engine.Run(ctx, testTask())
		require.NoError(t, err)
		assert.InDelta(t, 2.0/3.0, result.YesFraction, 1e-9)
	})

	t.Run("should start another step when the vote fails", func(t *testing.T) {
		base := defaultReply(1)
		completer := newScriptedCompleter(func(state string, n int, request model.Request) string {
			if state == "ExecVote" && n == 0 {
				return "<complete>no</complete>"
			}
			return base(state, n, request)
		})
		executor := &mockExecutor{outcomes: []sandbox.Outcome{{Stdout: "partial\n"}, {Stdout: "done\n"}}}
		engine := newTestEngine(t, completer, executor, Config{Plans: 1, Voters: 1, Temperature: 0.7})

		result, err := engine.Run(ctx, testTask())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Steps)
		assert.Equal(t, "done\n", result.Output)
		assert.Contains(t, paths(result.Transitions), "Plan")
	})

	t.Run("should fail when the winner has no code block", func(t *testing.T) {
		base := defaultReply(1)
		completer := newScriptedCompleter(func(state string, n int, request model.Request) string {
			if state == "Propose" {
				return "just prose"
			}
			return base(state, n, request)
		})
		engine := newTestEngine(t, completer, &mockExecutor{}, Config{Plans: 1, Voters: 1, Temperature: 0.7})

		_, err := engine.Run(ctx, testTask())

		var execErr *ExecError
		require.ErrorAs(t, err, &execErr)
		assert.ErrorIs(t, err, protocol.ErrNoCodeBlock)
		assert.Equal(t, "<step_1>just prose</step_1>", execErr.Text)
	})

	t.Run("should fail on votes without scores", func(t *testing.T) {
		base := defaultReply(1)
		completer := newScriptedCompleter(func(state string, n int, request model.Request) string {
			if state == "PlanVote" {
				return "<correctness><score>high</score></correctness>"
			}
			return base(state, n, request)
		})
		engine := newTestEngine(t, completer, &mockExecutor{}, Config{Plans: 1, Voters: 1, Temperature: 0.7})

		_, err := engine.Run(ctx, testTask())
		assert.ErrorIs(t, err, ErrMalformedVote)
	})

	t.Run("should fail on verdicts without an answer", func(t *testing.T) {
		base := defaultReply(1)
		completer := newScriptedCompleter(func(state string, n int, request model.Request) string {
			if state == "ExecVote" {
				return "<reason>unsure</reason>"
			}
			return base(state, n, request)
		})
		executor := &mockExecutor{outcomes: []sandbox.Outcome{{Stdout: "done\n"}}}
		engine := newTestEngine(t, completer, executor, Config{Plans: 1, Voters: 1, Temperature: 0.7})

		_, err := engine.Run(ctx, testTask())
		assert.ErrorIs(t, err, ErrMalformedVote)
	})

	t.Run("should stop when the context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		engine := newTestEngine(t, newScriptedCompleter(defaultReply(1)), &mockExecutor{}, Config{Plans: 1, Voters: 1, Temperature: 0.7})

		_, err := engine.Run(cancelled, testTask())
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func indexOf(items []string, item string) int {
	for i, v := range items {
		if v == item {
			return i
		}
	}
	return -1
}

func TestChoosePlan(t *testing.T) {
	t.Run("should compare categories in order", func(t *testing.T) {
		scores := []Scores{
			{8, 9, 9, 9},
			{9, 1, 1, 1},
			{9, 1, 2, 0},
		}
		assert.Equal(t, 2, choosePlan(scores))
	})

	t.Run("should break full ties by the lower index", func(t *testing.T) {
		scores := []Scores{
			{5, 5, 5, 5},
			{7, 7, 7, 7},
			{7, 7, 7, 7},
		}
		for i := 0; i < 10; i++ {
			assert.Equal(t, 1, choosePlan(scores))
		}
	})

	t.Run("should handle a single plan", func(t *testing.T) {
		assert.Equal(t, 0, choosePlan([]Scores{{1, 1, 1, 1}}))
	})
}

func TestQuorum(t *testing.T) {
	assert.False(t, quorum(1, 2))
	assert.False(t, quorum(3, 6))
	assert.True(t, quorum(2, 3))
	assert.True(t, quorum(4, 7))
	assert.False(t, quorum(0, 1))
}

func TestNew(t *testing.T) {
	t.Run("should require a completer and an executor", func(t *testing.T) {
		_, err := New(Dependencies{Executor: &mockExecutor{}}, DefaultConfig())
		assert.ErrorIs(t, err, ErrMissingDependency)

		_, err = New(Dependencies{Completer: newScriptedCompleter(defaultReply(1))}, DefaultConfig())
		assert.ErrorIs(t, err, ErrMissingDependency)
	})

	t.Run("should reject invalid configs", func(t *testing.T) {
		_, err := New(Dependencies{Completer: newScriptedCompleter(defaultReply(1)), Executor: &mockExecutor{}}, Config{Plans: 0, Voters: 1})
		assert.Error(t, err)
	})

	t.Run("should reject tables with unhandled states", func(t *testing.T) {
		def, err := statemachine.ParseDefinition([]byte(`
initial: Plan
idle: Done
states: [{name: Plan}, {name: Reflect}, {name: Done}]
transitions: [{from: Plan, trigger: Reflect, to: Reflect}]
`))
		require.NoError(t, err)

		_, err = New(Dependencies{
			Completer:  newScriptedCompleter(defaultReply(1)),
			Executor:   &mockExecutor{},
			Definition: &def,
		}, DefaultConfig())
		assert.ErrorIs(t, err, ErrNoHandler)
	})

	t.Run("should load the built-in tables", func(t *testing.T) {
		engine, err := New(Dependencies{Completer: newScriptedCompleter(defaultReply(1)), Executor: &mockExecutor{}}, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), engine.Config())
	})
}

func TestDefaultPrompts(t *testing.T) {
	lib, err := prompt.Parse(DefaultPrompts())
	require.NoError(t, err)

	vars := map[string]map[string]any{
		"Plan":         {"task": "t", "step_num": 1},
		"PlanVote":     {"task": "t", "exec_history": "", "step_num": 1, "step_plan": "p"},
		"Propose":      {"task": "t", "step_num": 1},
		"ProposeVote":  {"task": "t", "step_num": 1, "step_plan": "p", "step_implementation": "i"},
		"PlanErrorFix": {"task": "t", "step_num": 1, "output": "o", "error": "e"},
		"ExecVote":     {"task": "t", "step_num": 1, "output": "o", "error": "e", "step_plan": "p", "step_implementation": "i"},
	}

	for path, v := range vars {
		t.Run("should render "+path, func(t *testing.T) {
			_, err := lib.System(path, v)
			require.NoError(t, err)
			_, err = lib.User(path, v)
			require.NoError(t, err)
		})
	}
}
