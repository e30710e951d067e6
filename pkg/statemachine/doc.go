// Package statemachine implements hierarchical conversation state machines
// compiled from declarative tables.
//
// States are addressed by path ("Route/Select"; "Route.Select" is accepted
// and normalized). A transition declared on a group applies to every state
// inside it unless a nearer state declares the same trigger. Transitions may
// carry a guard, a named predicate over the caller's context value, which is
// how one trigger fans out to several targets.
//
// Invariants:
//   - Every fired trigger resolves to exactly one transition or Transition
//     returns a *TransitionError; the current state is left unchanged.
//   - Entering a group enters its initial child, recursively, so the current
//     state is always a leaf.
//   - The context value is only shown to guards and is never stored.
//
// Usage:
//
//	def, _ := statemachine.ParseDefinition(data)
//	table, _ := statemachine.Compile(def, map[string]statemachine.Guard[*cycle]{
//		"matched": func(c *cycle) bool { return c.agent != nil },
//	})
//	m, _ := statemachine.NewMachine(table, "")
//	for !m.Idle() {
//		_ = m.Transition(next, c)
//	}
package statemachine
