package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, name string) *Agent {
	t.Helper()
	agent, err := NewAgent(name, name+" agent", &mockRunner{})
	require.NoError(t, err)
	return agent
}

func TestRegistry(t *testing.T) {
	t.Run("should register agents in order", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newTestAgent(t, "b")))
		require.NoError(t, r.Register(newTestAgent(t, "a")))

		assert.Equal(t, 2, r.Count())
		list := r.List()
		assert.Equal(t, "b", list[0].Name)
		assert.Equal(t, "a", list[1].Name)
	})

	t.Run("should reject duplicate names", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newTestAgent(t, "a")))

		err := r.Register(newTestAgent(t, "a"))
		assert.ErrorIs(t, err, ErrAgentExists)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("should match names exactly", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newTestAgent(t, "Sorter")))

		_, ok := r.Get("sorter")
		assert.False(t, ok)
		assert.True(t, r.Exists("Sorter"))
	})

	t.Run("should keep registration order as agents are added", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newTestAgent(t, "a")))
		require.NoError(t, r.Register(newTestAgent(t, "b")))
		assert.ErrorIs(t, r.Register(newTestAgent(t, "a")), ErrAgentExists)

		agents := r.List()
		require.Len(t, agents, 2)
		assert.Equal(t, "a", agents[0].Name)
		assert.Equal(t, "b", agents[1].Name)
	})

	t.Run("should render the roster", func(t *testing.T) {
		r := NewRegistry()
		agent := newTestAgent(t, "a")
		agent.AddTask(task("sort & count"))
		require.NoError(t, r.Register(agent))

		roster, err := r.Roster()
		require.NoError(t, err)
		assert.Equal(t, "<agent idx=\"0\">\n<name>a</name>\n<description>a agent</description>\n<tasks>\n<title>sort &amp; count</title>\n</tasks>\n</agent>\n", roster)
	})

	t.Run("should render an empty roster", func(t *testing.T) {
		roster, err := NewRegistry().Roster()
		require.NoError(t, err)
		assert.Empty(t, roster)
	})
}

func TestNewAgent(t *testing.T) {
	t.Run("should require a name and a runner", func(t *testing.T) {
		_, err := NewAgent("  ", "d", &mockRunner{})
		assert.ErrorIs(t, err, ErrInvalidAgent)

		_, err = NewAgent("a", "d", nil)
		assert.ErrorIs(t, err, ErrInvalidAgent)
	})

	t.Run("should generate ids", func(t *testing.T) {
		a := newTestAgent(t, "a")
		b := newTestAgent(t, "b")
		assert.NotEmpty(t, a.ID)
		assert.NotEqual(t, a.ID, b.ID)
	})
}
