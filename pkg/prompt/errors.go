package prompt

import "errors"

var (
	// ErrPromptNotFound is returned when no template is registered for a path
	// or any of its enclosing groups
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrInvalidLibrary is returned for documents without a prompts mapping
	ErrInvalidLibrary = errors.New("invalid prompt library")
)
