package router

import "errors"

var (
	// ErrAgentExists is returned when registering a name that is taken.
	ErrAgentExists = errors.New("agent already registered")

	// ErrInvalidAgent is returned for agents without a name or runner.
	ErrInvalidAgent = errors.New("invalid agent")

	// ErrMissingDependency is returned by New when a required collaborator
	// is nil.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrNoHandler is returned when the routing table has a state the router
	// cannot handle.
	ErrNoHandler = errors.New("no handler for state")
)
