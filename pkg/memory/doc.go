// Package memory holds the conversation history of one reasoning thread.
//
// A Stream is an ordered list of role-tagged messages plus a system prompt
// slot. Plan streams carry a plan index, voter streams a voter index and an
// append-only list of vote records.
//
// Invariants:
// - Messages are only appended, except that StoreReply replaces a pending
//   assistant prefill with the full reply.
// - CopyHistoryFrom deep-copies the message list; streams never share
//   backing storage.
// - Vote records are never removed; callers filter them by step.
//
// Usage:
//
//	s := memory.NewStream(0, memory.NoIndex)
//	_ = s.LoadSystem(prompts, "Plan", map[string]any{"task": task})
//	_ = s.LoadUser(prompts, "Plan", map[string]any{"step_num": 1})
//	s.LoadAssistantPrefill("<step_1>")
//	s.StoreReply("<step_1>" + reply + "</step_1>")
package memory
