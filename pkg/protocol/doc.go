// Package protocol exchanges structured data with language models as XML-like
// markup.
//
// Invariants:
// - Encode emits tags in map insertion order and Decode preserves document order.
// - Decode never guesses: malformed markup, a non-map root and attribute/child
//   name collisions are all reported as typed errors.
// - Repairer.Decode asks the model to fix malformed markup at most MaxDepth
//   times before giving up with the last malformed text.
package protocol
