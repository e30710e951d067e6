package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is matched by syntax errors in model-produced markup
	ErrMalformed = errors.New("malformed markup")

	// ErrRootNotMap is returned when markup does not decode to a mapping
	ErrRootNotMap = errors.New("decoded root is not a mapping")

	// ErrAttributeCollision is matched when an attribute and a child share a name
	ErrAttributeCollision = errors.New("attribute collides with child element")

	// ErrDuplicateName is matched when an element repeats a child tag or an
	// attribute
	ErrDuplicateName = errors.New("duplicate name in element")

	// ErrAttributedText is returned for a text leaf that also carries
	// attributes
	ErrAttributedText = errors.New("text element carries attributes")

	// ErrUnrecoverable is matched when the repair bound is exhausted
	ErrUnrecoverable = errors.New("unrecoverable parse failure")

	// ErrInvalidTag is returned when a map key cannot be used as a tag name
	ErrInvalidTag = errors.New("invalid tag name")

	// ErrNoCodeBlock is returned when no fenced code block is present
	ErrNoCodeBlock = errors.New("no fenced code block found")
)

// SyntaxError reports markup that could not be parsed.
type SyntaxError struct {
	Text string // the wrapped text handed to the parser
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed markup at line %d: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrMalformed
}

// CollisionError reports an attribute sharing its name with a child element.
type CollisionError struct {
	Element string
	Name    string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("element <%s>: attribute %q collides with child element", e.Element, e.Name)
}

func (e *CollisionError) Is(target error) bool {
	return target == ErrAttributeCollision
}

// DuplicateError reports a child tag or attribute that appears more than once
// in the same element.
type DuplicateError struct {
	Element string
	Name    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("element <%s>: %q appears more than once", e.Element, e.Name)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateName
}

// UnrecoverableError is returned once the repair bound is exhausted. Text is
// the most recent malformed markup.
type UnrecoverableError struct {
	Attempts int
	Text     string
	Err      error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("unrecoverable parse failure after %d repair attempts: %v\n%s", e.Attempts, e.Err, e.Text)
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

func (e *UnrecoverableError) Is(target error) bool {
	return target == ErrUnrecoverable
}
