package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/grove/internal/observability"
	"github.com/harun/grove/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Client completes requests against a prioritized list of auth profiles.
type Client struct {
	config   Config
	factory  ProviderFactory
	logger   zerolog.Logger
	profiles []AuthProfile
	mu       sync.RWMutex

	// cached providers by profile ID
	providers map[string]Provider

	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithFactory overrides the provider factory.
func WithFactory(factory ProviderFactory) ClientOption {
	return func(c *Client) {
		c.factory = factory
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client over the given auth profiles.
func NewClient(cfg Config, profiles []AuthProfile, opts ...ClientOption) (*Client, error) {
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}

	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}

	c := &Client{
		config:    cfg,
		factory:   DefaultFactory{},
		logger:    zerolog.Nop(),
		profiles:  append([]AuthProfile(nil), profiles...),
		providers: make(map[string]Provider),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	sortProfilesByPriority(c.profiles)
	return c, nil
}

// Complete sends the request to the first healthy profile and returns the
// completion text.
func (c *Client) Complete(ctx context.Context, request Request) (string, error) {
	if request.Model == "" {
		request.Model = c.config.Model
	}
	if request.MaxTokens <= 0 {
		request.MaxTokens = c.config.MaxTokens
	}

	response, err := c.executeWithFailover(ctx, request)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// Profiles returns a snapshot of the auth profiles in priority order.
func (c *Client) Profiles() []AuthProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]AuthProfile(nil), c.profiles...)
}

func (c *Client) executeWithFailover(ctx context.Context, request Request) (*Response, error) {
	profiles := c.Profiles()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	var lastErr error

	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().
				Str("profileId", profile.ID).
				Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := c.provider(profile)
		if err != nil {
			logger.Warn().
				Str("profileId", profile.ID).
				Err(err).
				Msg("Failed to create provider")
			lastErr = err
			continue
		}

		start := time.Now()
		response, err := c.callWithRetry(ctx, provider, request)
		observability.RecordModelCall(provider.Name(), time.Since(start), err == nil)
		if err == nil {
			c.updateProfileSuccess(profile.ID)
			if response.Usage != nil {
				observability.RecordTokens(provider.Name(), response.Usage.InputTokens, response.Usage.OutputTokens)
			}
			return response, nil
		}

		lastErr = err
		logger.Warn().
			Str("profileId", profile.ID).
			Err(err).
			Msg("Auth profile failed")

		c.updateProfileFailure(profile.ID)

		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, ErrAllProfilesFailed
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProfilesFailed, lastErr)
}

// callWithRetry calls the provider with exponential backoff retry
func (c *Client) callWithRetry(ctx context.Context, provider Provider, request Request) (*Response, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"grove.model",
		"model.call",
		attribute.String("provider", provider.Name()),
		attribute.String("model", request.Model),
		attribute.Float64("temperature", request.Temperature),
	)
	defer span.End()

	var lastErr error

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			break
		}

		// Last attempt - don't wait
		if attempt == c.config.MaxRetries-1 {
			lastErr = fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, err)
			break
		}

		delay := c.config.RetryBackoff * time.Duration(1<<attempt)
		c.logger.Info().
			Str("provider", provider.Name()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (c *Client) provider(profile AuthProfile) (Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.providers[profile.ID]; ok {
		return p, nil
	}

	p, err := c.factory.NewProvider(profile)
	if err != nil {
		return nil, err
	}
	c.providers[profile.ID] = p
	return p, nil
}

// updateProfileSuccess resets failure count for a profile
func (c *Client) updateProfileSuccess(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.profiles {
		if c.profiles[i].ID == profileID {
			c.profiles[i].FailureCount = 0
			c.profiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(c.profiles[i].Provider, false)
			break
		}
	}
}

// updateProfileFailure puts a profile into cooldown, growing with each
// consecutive failure.
func (c *Client) updateProfileFailure(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.profiles {
		if c.profiles[i].ID == profileID {
			c.profiles[i].FailureCount++
			until := time.Now().Add(c.config.Cooldown * time.Duration(c.profiles[i].FailureCount)).UnixMilli()
			c.profiles[i].CooldownUntil = &until
			observability.SetProviderCooldown(c.profiles[i].Provider, true)
			break
		}
	}
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
