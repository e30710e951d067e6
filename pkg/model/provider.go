package model

import (
	"context"
	"fmt"
)

// Provider is a single model API backend.
type Provider interface {
	// Call makes a model API call
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// Completer returns the text of a completion. It is the only view of the
// model that the search engine, the router and the markup repairer need.
type Completer interface {
	Complete(ctx context.Context, request Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, request Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, request Request) (string, error) {
	return f(ctx, request)
}

// ProviderFactory creates providers from auth profiles.
type ProviderFactory interface {
	NewProvider(profile AuthProfile) (Provider, error)
}

// DefaultFactory builds the providers shipped with this package.
type DefaultFactory struct{}

// NewProvider creates a provider based on the auth profile
func (DefaultFactory) NewProvider(profile AuthProfile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	case "gemini":
		return NewGeminiProvider(profile.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, profile.Provider)
	}
}
