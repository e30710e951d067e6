// Package model talks to hosted language models.
//
// Invariants:
// - Returned completions never include the stop sequence that ended them.
// - A trailing assistant message is a prefill: the model continues it.
// - Transient provider failures are retried with exponential backoff, then
//   the next auth profile (by priority) is tried.
//
// Usage:
//
//	client, _ := model.NewClient(model.DefaultConfig(), []model.AuthProfile{
//		{ID: "primary", Provider: "anthropic", APIKey: key},
//	})
//	text, _ := client.Complete(ctx, model.Request{
//		System:        "You are terse.",
//		Messages:      []model.Message{model.UserMessage("hi")},
//		StopSequences: []string{"</output>"},
//	})
//	_ = text
package model
