package model

import "strings"

// Prefill returns the content of a trailing assistant message, if any.
func Prefill(messages []Message) string {
	if n := len(messages); n > 0 && messages[n-1].Role == RoleAssistant {
		return messages[n-1].Content
	}
	return ""
}

// trimPrefill removes an echoed prefill from providers that cannot continue
// an assistant turn natively.
func trimPrefill(content string, messages []Message) string {
	prefill := Prefill(messages)
	if prefill == "" {
		return content
	}
	trimmed := strings.TrimLeft(content, " \t\r\n")
	return strings.TrimPrefix(trimmed, prefill)
}
