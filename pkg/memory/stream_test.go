package memory

import (
	"errors"
	"fmt"
	"testing"

	"github.com/harun/grove/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRenderer struct {
	err error
}

func (m *mockRenderer) System(path string, vars map[string]any) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("system %s task=%v", path, vars["task"]), nil
}

func (m *mockRenderer) User(path string, vars map[string]any) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("user %s step=%v", path, vars["step_num"]), nil
}

func TestStream(t *testing.T) {
	renderer := &mockRenderer{}

	t.Run("should prime from templates", func(t *testing.T) {
		s := NewStream(0, NoIndex)
		require.NoError(t, s.LoadSystem(renderer, "Plan", map[string]any{"task": "sort"}))
		require.NoError(t, s.LoadUser(renderer, "Plan", map[string]any{"step_num": 1}))

		assert.Equal(t, "system Plan task=sort", s.System())
		assert.Equal(t, []model.Message{model.UserMessage("user Plan step=1")}, s.Messages())
	})

	t.Run("should replace a pending prefill with the reply", func(t *testing.T) {
		s := NewStream(0, NoIndex)
		require.NoError(t, s.LoadUser(renderer, "Plan", nil))
		s.LoadAssistantPrefill("<step_1>")
		s.StoreReply("<step_1>do it</step_1>")

		messages := s.Messages()
		require.Len(t, messages, 2)
		assert.Equal(t, model.AssistantMessage("<step_1>do it</step_1>"), messages[1])
	})

	t.Run("should append a reply without prefill", func(t *testing.T) {
		s := NewStream(0, NoIndex)
		s.StoreReply("a")
		s.StoreReply("b")
		assert.Equal(t, 2, s.Len())

		last, ok := s.Message(-1)
		require.True(t, ok)
		assert.Equal(t, "b", last.Content)

		_, ok = s.Message(-3)
		assert.False(t, ok)
	})

	t.Run("should surface renderer errors", func(t *testing.T) {
		s := NewStream(0, NoIndex)
		err := s.LoadUser(&mockRenderer{err: errors.New("missing")}, "Plan", nil)
		assert.ErrorContains(t, err, "missing")
		assert.Zero(t, s.Len())
	})

	t.Run("should copy history but keep indices and votes", func(t *testing.T) {
		winner := NewStream(0, NoIndex)
		require.NoError(t, winner.LoadSystem(renderer, "Plan", map[string]any{"task": "x"}))
		winner.StoreReply("winning step")

		loser := NewStream(2, NoIndex)
		loser.StoreReply("losing step")
		loser.AddVote(VoteRecord{Step: 1, PlanIdx: 2, Text: "v"})
		loser.CopyHistoryFrom(winner)

		assert.Equal(t, winner.Messages(), loser.Messages())
		assert.Equal(t, winner.System(), loser.System())
		assert.Equal(t, 2, loser.PlanIdx())
		assert.Len(t, loser.Votes(), 1)

		winner.StoreReply("later")
		assert.Equal(t, 1, loser.Len())
	})

	t.Run("should filter votes by step", func(t *testing.T) {
		s := NewStream(NoIndex, 0)
		s.AddVote(VoteRecord{Step: 1, PlanIdx: 0, Text: "old"})
		s.AddVote(VoteRecord{Step: 2, PlanIdx: 0, Text: "a"})
		s.AddVote(VoteRecord{Step: 2, PlanIdx: 1, Text: "b"})

		votes := s.VotesForStep(2)
		require.Len(t, votes, 2)
		assert.Equal(t, "a", votes[0].Text)
		assert.Equal(t, 1, votes[1].PlanIdx)
		assert.Len(t, s.Votes(), 3)
	})

	t.Run("should build requests from history", func(t *testing.T) {
		s := NewStream(0, NoIndex)
		require.NoError(t, s.LoadSystem(renderer, "Plan", map[string]any{"task": "t"}))
		s.LoadAssistantPrefill("<step_1>")

		request := s.Request([]string{"</step_1>"}, 0.7)
		assert.Equal(t, "system Plan task=t", request.System)
		assert.Equal(t, []string{"</step_1>"}, request.StopSequences)
		assert.Equal(t, 0.7, request.Temperature)
		assert.Len(t, request.Messages, 1)
	})
}
