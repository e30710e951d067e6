package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/harun/grove/pkg/model"
	"github.com/harun/grove/pkg/prompt"
	"github.com/harun/grove/pkg/protocol"
	"github.com/harun/grove/pkg/statemachine"
	"github.com/harun/grove/pkg/tot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrompts = `
prompts:
  Route/Select:
    system: "Select"
    user: "{{.agents_str}}|{{.task}}"
  Route/CreateAgent:
    system: "Create"
    user: "{{.task}}"
`

type mockCompleter struct {
	mu       sync.Mutex
	replies  map[string][]string
	requests map[string][]model.Request
}

func newMockCompleter() *mockCompleter {
	return &mockCompleter{
		replies:  make(map[string][]string),
		requests: make(map[string][]model.Request),
	}
}

func (m *mockCompleter) on(kind string, replies ...string) *mockCompleter {
	m.replies[kind] = append(m.replies[kind], replies...)
	return m
}

func (m *mockCompleter) Complete(ctx context.Context, request model.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := strings.Fields(request.System)[0]
	m.requests[kind] = append(m.requests[kind], request)

	queue := m.replies[kind]
	if len(queue) == 0 {
		return "", errors.New("unexpected call: " + kind)
	}
	reply := queue[0]
	if len(queue) > 1 {
		m.replies[kind] = queue[1:]
	}
	return reply, nil
}

type mockRunner struct {
	mu    sync.Mutex
	tasks []*protocol.Map
	err   error
}

func (m *mockRunner) Run(ctx context.Context, task *protocol.Map) (*tot.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	if m.err != nil {
		return nil, m.err
	}
	return &tot.Result{Steps: 1, Output: "ok"}, nil
}

type factoryRecorder struct {
	runners map[string]*mockRunner
	names   []string
	err     error
}

func newFactoryRecorder() *factoryRecorder {
	return &factoryRecorder{runners: make(map[string]*mockRunner)}
}

func (f *factoryRecorder) build(name, description string) (Runner, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.names = append(f.names, name)
	runner := &mockRunner{}
	f.runners[name] = runner
	return runner, nil
}

func newTestRouter(t *testing.T, completer model.Completer, factory EngineFactory, opts ...Option) *Router {
	t.Helper()
	prompts, err := prompt.Parse([]byte(testPrompts))
	require.NoError(t, err)

	r, err := New(Dependencies{
		Completer: completer,
		Factory:   factory,
		Prompts:   prompts,
	}, opts...)
	require.NoError(t, err)
	return r
}

func task(title string) *protocol.Map {
	return protocol.MapOf("title", title)
}

func transitionTargets(log []statemachine.Dispatch) []string {
	out := make([]string, 0, len(log))
	for _, d := range log {
		out = append(out, d.To)
	}
	return out
}

func TestRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("should create an agent when the roster is empty", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<reason>no agents</reason><name></name>").
			on("Create", "<name>sorter</name><description>Sorts lists</description>")
		factory := newFactoryRecorder()
		r := newTestRouter(t, completer, factory.build)

		outcome, err := r.Route(ctx, TriggerRoute, task("sort"))
		require.NoError(t, err)

		assert.True(t, outcome.Created)
		assert.Equal(t, "sorter", outcome.Agent)
		assert.Equal(t, []string{"Route/Select", "Route/CreateAgent", "Await"}, transitionTargets(outcome.Transitions))
		assert.NotContains(t, transitionTargets(outcome.Transitions), "Route/AssignAgent")

		agent, ok := r.Get("sorter")
		require.True(t, ok)
		assert.Equal(t, "Sorts lists", agent.Description)
		assert.Equal(t, outcome.AgentID, agent.ID)
		require.Len(t, agent.Tasks(), 1)
		assert.Len(t, factory.runners["sorter"].tasks, 1)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("should treat a null name as no selection", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<name>None</name>").
			on("Create", "<name>a</name><description>d</description>")
		r := newTestRouter(t, completer, newFactoryRecorder().build)

		outcome, err := r.Route(ctx, TriggerRoute, task("x"))
		require.NoError(t, err)
		assert.True(t, outcome.Created)
	})

	t.Run("should treat a missing name as no selection", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<reason>nothing fits</reason>").
			on("Create", "<name>a</name><description>d</description>")
		r := newTestRouter(t, completer, newFactoryRecorder().build)

		outcome, err := r.Route(ctx, TriggerRoute, task("x"))
		require.NoError(t, err)
		assert.True(t, outcome.Created)
	})

	t.Run("should assign to the selected agent", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<name></name>", "<name>sorter</name>").
			on("Create", "<name>sorter</name><description>Sorts lists</description>")
		factory := newFactoryRecorder()
		r := newTestRouter(t, completer, factory.build)

		_, err := r.Route(ctx, TriggerRoute, task("sort numbers"))
		require.NoError(t, err)

		outcome, err := r.Route(ctx, TriggerRoute, task("sort words"))
		require.NoError(t, err)

		assert.False(t, outcome.Created)
		assert.Equal(t, "sorter", outcome.Agent)
		assert.Equal(t, []string{"Route/Select", "Route/AssignAgent", "Await"}, transitionTargets(outcome.Transitions))
		assert.Equal(t, 1, r.Count())
		assert.Len(t, factory.names, 1)

		agent, _ := r.Get("sorter")
		assert.Len(t, agent.Tasks(), 2)
		assert.Len(t, factory.runners["sorter"].tasks, 2)

		// the second selection sees the roster with the first task
		selects := completer.requests["Select"]
		require.Len(t, selects, 2)
		user := selects[1].Messages[0].Content
		assert.Contains(t, user, "<agent idx=\"0\">")
		assert.Contains(t, user, "<name>sorter</name>")
		assert.Contains(t, user, "<title>sort numbers</title>")
	})

	t.Run("should shape routing requests", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<name></name>").
			on("Create", "<name>a</name><description>d</description>")
		r := newTestRouter(t, completer, newFactoryRecorder().build)

		_, err := r.Route(ctx, TriggerRoute, task("x"))
		require.NoError(t, err)

		request := completer.requests["Select"][0]
		assert.Equal(t, []string{"</output>"}, request.StopSequences)
		assert.Equal(t, 0.0, request.Temperature)
		assert.Equal(t, model.AssistantMessage("<output>"), request.Messages[len(request.Messages)-1])
		assert.Equal(t, "|<title>x</title>", request.Messages[0].Content)
	})

	t.Run("should create an agent when the selected name is unknown", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<name>ghost</name>").
			on("Create", "<name>real</name><description>d</description>")
		r := newTestRouter(t, completer, newFactoryRecorder().build)

		outcome, err := r.Route(ctx, TriggerRoute, task("x"))
		require.NoError(t, err)
		assert.True(t, outcome.Created)
		assert.Equal(t, "real", outcome.Agent)
		_, ok := r.Get("ghost")
		assert.False(t, ok)
	})

	t.Run("should suffix colliding agent names", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<name></name>").
			on("Create", "<name>sorter</name><description>d</description>")
		factory := newFactoryRecorder()
		suffixes := []string{"abc123", "def456"}
		r := newTestRouter(t, completer, factory.build, WithSuffixGenerator(func() (string, error) {
			s := suffixes[0]
			suffixes = suffixes[1:]
			return s, nil
		}))

		first, err := r.Route(ctx, TriggerRoute, task("a"))
		require.NoError(t, err)
		second, err := r.Route(ctx, TriggerRoute, task("b"))
		require.NoError(t, err)

		assert.Equal(t, "sorter", first.Agent)
		assert.Equal(t, "sorter-abc123", second.Agent)
		assert.Equal(t, 2, r.Count())

		names := []string{}
		for _, agent := range r.Agents() {
			names = append(names, agent.Name)
		}
		assert.Equal(t, []string{"sorter", "sorter-abc123"}, names)
	})

	t.Run("should repair malformed selections", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<name>sorter").
			on("Fix", "<name></name>").
			on("Create", "<name>a</name><description>d</description>")
		prompts, err := prompt.Parse([]byte(testPrompts))
		require.NoError(t, err)

		repairer := protocol.NewRepairer(model.CompleterFunc(func(ctx context.Context, request model.Request) (string, error) {
			request.System = "Fix"
			return completer.Complete(ctx, request)
		}))
		r, err := New(Dependencies{
			Completer: completer,
			Factory:   newFactoryRecorder().build,
			Prompts:   prompts,
			Repairer:  repairer,
		})
		require.NoError(t, err)

		outcome, err := r.Route(ctx, TriggerRoute, task("x"))
		require.NoError(t, err)
		assert.True(t, outcome.Created)
		assert.Len(t, completer.requests["Fix"], 1)
	})

	t.Run("should fail when the new agent has no name", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<name></name>").
			on("Create", "<description>d</description>")
		r := newTestRouter(t, completer, newFactoryRecorder().build)

		_, err := r.Route(ctx, TriggerRoute, task("x"))
		assert.ErrorIs(t, err, ErrInvalidAgent)
		assert.Equal(t, 0, r.Count())
	})

	t.Run("should return runner errors", func(t *testing.T) {
		completer := newMockCompleter().
			on("Select", "<name></name>").
			on("Create", "<name>a</name><description>d</description>")
		boom := errors.New("boom")
		r := newTestRouter(t, completer, func(name, description string) (Runner, error) {
			return &mockRunner{err: boom}, nil
		})

		_, err := r.Route(ctx, TriggerRoute, task("x"))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("should reject triggers the idle state does not accept", func(t *testing.T) {
		r := newTestRouter(t, newMockCompleter(), newFactoryRecorder().build)

		_, err := r.Route(ctx, "Dispatch", task("x"))

		var transitionErr *statemachine.TransitionError
		require.ErrorAs(t, err, &transitionErr)
		assert.Equal(t, "Await", transitionErr.State)
		assert.ErrorIs(t, err, statemachine.ErrNoTransition)
	})
}

func TestNew(t *testing.T) {
	t.Run("should require a completer and a factory", func(t *testing.T) {
		_, err := New(Dependencies{Factory: newFactoryRecorder().build})
		assert.ErrorIs(t, err, ErrMissingDependency)

		_, err = New(Dependencies{Completer: newMockCompleter()})
		assert.ErrorIs(t, err, ErrMissingDependency)
	})

	t.Run("should load the built-in tables", func(t *testing.T) {
		r, err := New(Dependencies{Completer: newMockCompleter(), Factory: newFactoryRecorder().build})
		require.NoError(t, err)
		assert.Equal(t, 0, r.Count())
	})

	t.Run("should render the built-in prompts", func(t *testing.T) {
		lib, err := prompt.Parse(DefaultPrompts())
		require.NoError(t, err)

		_, err = lib.System("Route/Select", map[string]any{"agents_str": "", "task": "t"})
		require.NoError(t, err)
		_, err = lib.User("Route.CreateAgent", map[string]any{"task": "t"})
		require.NoError(t, err)
	})
}
