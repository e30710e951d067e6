package tot

import (
	_ "embed"

	"github.com/harun/grove/pkg/statemachine"
)

//go:embed states.yaml
var defaultStates []byte

//go:embed prompts.yaml
var defaultPrompts []byte

// DefaultDefinition returns the built-in search state table.
func DefaultDefinition() (statemachine.Definition, error) {
	return statemachine.ParseDefinition(defaultStates)
}

// DefaultPrompts returns the built-in prompt library document.
func DefaultPrompts() []byte {
	return append([]byte(nil), defaultPrompts...)
}
