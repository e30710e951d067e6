// Package tot implements a Tree-of-Thought search engine with best-of-N
// peer voting.
//
// A run keeps P plan streams and three sets of V voter streams. Every step
// proposes P plan steps, has each voter score each of them, keeps the best
// one, asks for P implementations of it, scores those the same way and
// executes the winner. A failed execution feeds its output back into a new
// planning round; a clean one is put to a completion vote that ends the run
// on a strict majority.
//
// Invariants:
//   - All P plan calls finish before any vote, all votes before aggregation
//     and aggregation before selection.
//   - After each selection every plan stream holds a copy of the winner's
//     history.
//   - Scores are averaged over the full voter count; ties go to the lower
//     plan index.
//   - Fatal conditions are returned as errors: *ExecError, ErrMalformedVote,
//     ErrStepLimit, *statemachine.TransitionError and protocol errors.
//
// Usage:
//
//	engine, err := tot.New(tot.Dependencies{
//		Completer: client,
//		Executor:  sandbox.NewCodeExecutor(sb),
//	}, tot.DefaultConfig())
//	result, err := engine.Run(ctx, task)
package tot
