package statemachine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDefinition is returned for tables that fail validation
	ErrInvalidDefinition = errors.New("invalid state machine definition")

	// ErrUnknownState is returned for paths not declared in the table
	ErrUnknownState = errors.New("unknown state")

	// ErrNoTransition is matched when a trigger has no transition from the
	// current state
	ErrNoTransition = errors.New("no transition")

	// ErrAmbiguousTransition is matched when more than one transition applies
	ErrAmbiguousTransition = errors.New("ambiguous transition")
)

// TransitionError reports a trigger that did not resolve to exactly one
// transition.
type TransitionError struct {
	State   string
	Trigger string
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("state %q, trigger %q: %v", e.State, e.Trigger, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
