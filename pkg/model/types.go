package model

import (
	"strings"
	"time"
)

// Role tags a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage returns a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Request contains the parameters of one completion call.
type Request struct {
	Model         string
	System        string
	Messages      []Message
	StopSequences []string
	Temperature   float64
	MaxTokens     int
}

// Response contains a completion returned by a provider.
type Response struct {
	Content    string
	StopReason string
	Usage      *TokenUsage
}

// TokenUsage tracks token consumption of a call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AuthProfile is a credential for one provider.
type AuthProfile struct {
	ID            string `json:"id" mapstructure:"id"`
	Provider      string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey        string `json:"api_key" mapstructure:"api_key"`
	Priority      int    `json:"priority" mapstructure:"priority"` // lower = higher priority
	CooldownUntil *int64 `json:"cooldown_until,omitempty" mapstructure:"-"`
	FailureCount  int    `json:"failure_count" mapstructure:"-"`
}

// Config holds client defaults applied to requests that leave them unset.
type Config struct {
	Model        string
	MaxTokens    int
	MaxRetries   int
	RetryBackoff time.Duration // base delay, doubled per attempt
	Cooldown     time.Duration // per consecutive failure of a profile
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Model:        "claude-3-5-sonnet-20241022",
		MaxTokens:    4096,
		MaxRetries:   3,
		RetryBackoff: time.Second,
		Cooldown:     time.Minute,
	}
}

// IsRetryableError checks if an error is transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "ECONNRESET") || strings.Contains(errMsg, "ETIMEDOUT") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(strings.ToLower(errMsg), "rate limit") {
		return true
	}

	// Overloaded / server errors
	for _, code := range []string{"500", "502", "503", "504", "529"} {
		if strings.Contains(errMsg, code) {
			return true
		}
	}

	return false
}

// EstimateTokens estimates the number of tokens in a text.
func EstimateTokens(text string) int {
	// Rough estimate: 1 token ≈ 4 characters
	return len(text) / 4
}
