package model

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements Provider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{client: client}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Close releases the underlying client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// Call makes an API call to Google Gemini. Gemini chats must end on a user
// turn, so a trailing prefill is folded into the last user message.
func (p *GeminiProvider) Call(ctx context.Context, request Request) (*Response, error) {
	gm := p.client.GenerativeModel(request.Model)
	gm.SetTemperature(float32(request.Temperature))
	if request.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(request.MaxTokens))
	}
	if len(request.StopSequences) > 0 {
		gm.StopSequences = request.StopSequences
	}
	if request.System != "" {
		gm.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(request.System)},
		}
	}

	history, last := geminiContents(request.Messages)

	session := gm.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	content := ""
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				content += string(txt)
			}
		}
	}

	response := &Response{
		Content:    trimPrefill(content, request.Messages),
		StopReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		response.Usage = &TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	return response, nil
}

// geminiContents splits messages into chat history and the text to send.
func geminiContents(messages []Message) ([]*genai.Content, string) {
	prefill := ""
	if n := len(messages); n > 0 && messages[n-1].Role == RoleAssistant {
		prefill = messages[n-1].Content
		messages = messages[:n-1]
	}

	last := ""
	if n := len(messages); n > 0 && messages[n-1].Role == RoleUser {
		last = messages[n-1].Content
		messages = messages[:n-1]
	}
	if prefill != "" {
		last += "\n\nBegin your reply with exactly: " + prefill
	}

	var history []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	return history, last
}
