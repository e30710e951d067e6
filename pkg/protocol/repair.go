package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/grove/internal/observability"
	"github.com/harun/grove/pkg/model"
	"github.com/rs/zerolog"
)

// DefaultMaxDepth bounds the number of corrective model calls per decode.
const DefaultMaxDepth = 6

// tokenGrowthAllowance is added to the wrapped text length to size the
// corrective call.
const tokenGrowthAllowance = 128

const repairSystemPrompt = `You are an expert in the field of programming, and are especially good at finding mistakes in XML files.
Make sure there are no mistakes in the XML file, such as invalid characters, missing or unclosed tags, etc.
You may also want to make sure that the XML file is well-formed.
Make sure the tag pairs that were given remain and are balanced.
If there are any singleton tags, you should close them or replace them with an equivalent description.`

const repairUserPrompt = "Fix the following XML file according to the given instructions. Be especially vigilant for singleton tags:\n%s\n"

// Repairer decodes model-produced markup and asks the model to correct it
// when it is malformed.
type Repairer struct {
	completer   model.Completer
	maxDepth    int
	temperature float64
	logger      zerolog.Logger
}

// RepairerOption configures a Repairer.
type RepairerOption func(*Repairer)

// WithMaxDepth sets the number of corrective calls allowed per decode.
func WithMaxDepth(depth int) RepairerOption {
	return func(r *Repairer) {
		if depth >= 0 {
			r.maxDepth = depth
		}
	}
}

// WithLogger sets the repairer logger.
func WithLogger(logger zerolog.Logger) RepairerOption {
	return func(r *Repairer) {
		r.logger = logger
	}
}

// NewRepairer creates a Repairer that issues corrective calls to completer.
func NewRepairer(completer model.Completer, opts ...RepairerOption) *Repairer {
	r := &Repairer{
		completer:   completer,
		maxDepth:    DefaultMaxDepth,
		temperature: 1.0,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxDepth returns the repair bound.
func (r *Repairer) MaxDepth() int {
	return r.maxDepth
}

// Decode parses markup into a Map. Malformed markup is sent back to the model
// for correction up to MaxDepth times; any other decode error is returned
// immediately.
func (r *Repairer) Decode(ctx context.Context, markup string) (*Map, error) {
	text := markup

	for attempt := 0; ; attempt++ {
		m, err := Decode(text)
		if err == nil {
			if attempt > 0 {
				observability.RecordRepairOutcome(true)
				r.logger.Info().Int("attempts", attempt).Msg("Markup repaired")
			}
			return m, nil
		}

		if !errors.Is(err, ErrMalformed) {
			return nil, err
		}

		wrapped := Wrap(text)
		if attempt >= r.maxDepth {
			observability.RecordRepairOutcome(false)
			r.logger.Error().
				Int("attempts", attempt).
				Str("text", wrapped).
				Msg("Markup repair limit reached")
			return nil, &UnrecoverableError{Attempts: attempt, Text: wrapped, Err: err}
		}

		r.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("text", wrapped).
			Msg("Malformed markup, attempting fix")

		observability.RecordRepairAttempt()
		fixed, callErr := r.completer.Complete(ctx, r.request(wrapped))
		if callErr != nil {
			return nil, fmt.Errorf("repair call: %w", callErr)
		}
		text = fixed
	}
}

func (r *Repairer) request(wrapped string) model.Request {
	return model.Request{
		System: repairSystemPrompt,
		Messages: []model.Message{
			model.UserMessage(fmt.Sprintf(repairUserPrompt, wrapped)),
			model.AssistantMessage("<" + RootTag + ">"),
		},
		StopSequences: []string{"</" + RootTag + ">"},
		Temperature:   r.temperature,
		MaxTokens:     len(wrapped) + tokenGrowthAllowance,
	}
}
