package memory

import (
	"fmt"
	"sync"

	"github.com/harun/grove/pkg/model"
)

// NoIndex marks an unset plan or voter index.
const NoIndex = -1

// Renderer fills the system and user prompt templates registered for a state
// path.
type Renderer interface {
	System(path string, vars map[string]any) (string, error)
	User(path string, vars map[string]any) (string, error)
}

// VoteRecord is one voter's structured reply for a plan at a step.
type VoteRecord struct {
	Step    int
	PlanIdx int
	Text    string
}

// Stream is the message history of a single plan or voter thread.
type Stream struct {
	mu       sync.RWMutex
	system   string
	messages []model.Message
	votes    []VoteRecord
	planIdx  int
	voterIdx int

	// the last message is an assistant prefill awaiting its reply
	prefillPending bool
}

// NewStream creates an empty stream.
func NewStream(planIdx, voterIdx int) *Stream {
	return &Stream{planIdx: planIdx, voterIdx: voterIdx}
}

// LoadSystem renders the system prompt for path into the system slot.
func (s *Stream) LoadSystem(renderer Renderer, path string, vars map[string]any) error {
	text, err := renderer.System(path, vars)
	if err != nil {
		return fmt.Errorf("load system prompt %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = text
	return nil
}

// LoadUser renders the user prompt for path and appends it.
func (s *Stream) LoadUser(renderer Renderer, path string, vars map[string]any) error {
	text, err := renderer.User(path, vars)
	if err != nil {
		return fmt.Errorf("load user prompt %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, model.UserMessage(text))
	s.prefillPending = false
	return nil
}

// LoadAssistantPrefill seeds the assistant turn with text the model continues.
func (s *Stream) LoadAssistantPrefill(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, model.AssistantMessage(text))
	s.prefillPending = true
}

// StoreReply records the model's reply. A pending prefill is replaced, so the
// reply must carry the prefill text itself.
func (s *Stream) StoreReply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefillPending {
		s.messages[len(s.messages)-1].Content = text
		s.prefillPending = false
		return
	}
	s.messages = append(s.messages, model.AssistantMessage(text))
}

// System returns the system prompt.
func (s *Stream) System() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

// Messages returns a copy of the message list.
func (s *Stream) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.messages...)
}

// Len returns the number of messages.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Message returns the message at i; negative i counts from the end.
func (s *Stream) Message(i int) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 {
		i += len(s.messages)
	}
	if i < 0 || i >= len(s.messages) {
		return model.Message{}, false
	}
	return s.messages[i], true
}

// Request builds a completion request from the stream.
func (s *Stream) Request(stop []string, temperature float64) model.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Request{
		System:        s.system,
		Messages:      append([]model.Message(nil), s.messages...),
		StopSequences: stop,
		Temperature:   temperature,
	}
}

// CopyHistoryFrom replaces the system prompt and messages with a deep copy of
// other's. Indices and vote records are kept.
func (s *Stream) CopyHistoryFrom(other *Stream) {
	if other == s {
		return
	}

	other.mu.RLock()
	system := other.system
	messages := append([]model.Message(nil), other.messages...)
	pending := other.prefillPending
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = system
	s.messages = messages
	s.prefillPending = pending
}

// PlanIdx returns the plan index the stream belongs to or is voting on.
func (s *Stream) PlanIdx() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.planIdx
}

// SetPlanIdx sets the plan index a voter stream is scoring.
func (s *Stream) SetPlanIdx(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planIdx = idx
}

// VoterIdx returns the voter index, or NoIndex for plan streams.
func (s *Stream) VoterIdx() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voterIdx
}

// AddVote appends a vote record.
func (s *Stream) AddVote(record VoteRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes = append(s.votes, record)
}

// Votes returns a copy of every vote record.
func (s *Stream) Votes() []VoteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]VoteRecord(nil), s.votes...)
}

// VotesForStep returns the vote records produced at step.
func (s *Stream) VotesForStep(step int) []VoteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VoteRecord
	for _, v := range s.votes {
		if v.Step == step {
			out = append(out, v)
		}
	}
	return out
}
