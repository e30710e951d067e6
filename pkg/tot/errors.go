package tot

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedVote is returned when a vote lacks a score or verdict
	ErrMalformedVote = errors.New("malformed vote")

	// ErrStepLimit is returned when the search exceeds Config.MaxSteps
	ErrStepLimit = errors.New("step limit reached")

	// ErrNoHandler is returned when the state table reaches a state the engine
	// has no handler for
	ErrNoHandler = errors.New("no handler for state")

	// ErrMissingDependency is returned by New for unset dependencies
	ErrMissingDependency = errors.New("missing dependency")
)

// ExecError reports a winning implementation that could not be executed.
// Text is the offending reply.
type ExecError struct {
	Step int
	Text string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("step %d: %v:\n%s", e.Step, e.Err, e.Text)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
