package tot

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/grove/internal/observability"
	"github.com/harun/grove/internal/tracing"
	"github.com/harun/grove/pkg/memory"
	"github.com/harun/grove/pkg/model"
	"github.com/harun/grove/pkg/prompt"
	"github.com/harun/grove/pkg/protocol"
	"github.com/harun/grove/pkg/sandbox"
	"github.com/harun/grove/pkg/statemachine"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	execStart = "<output>"
	execStop  = "</output>"
)

// Executor runs a code fragment. Guest failures are reported through the
// outcome's Stderr, not the error.
type Executor interface {
	Execute(ctx context.Context, language, code string) (sandbox.Outcome, error)
}

// Dependencies are the collaborators of an Engine.
type Dependencies struct {
	Completer model.Completer
	Executor  Executor

	// Prompts defaults to the built-in prompt library
	Prompts memory.Renderer

	// Repairer defaults to one built over Completer
	Repairer *protocol.Repairer

	// Definition defaults to the built-in state table
	Definition *statemachine.Definition

	Logger zerolog.Logger
}

type handler func(ctx context.Context, c *cycle) (string, error)

// Engine runs Tree-of-Thought searches. An Engine holds no per-run state and
// may run several tasks one after another.
type Engine struct {
	cfg       Config
	completer model.Completer
	executor  Executor
	prompts   memory.Renderer
	repairer  *protocol.Repairer
	table     *statemachine.Table[*cycle]
	handlers  map[string]handler
	logger    zerolog.Logger
}

// New creates an engine.
func New(deps Dependencies, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}
	if deps.Completer == nil {
		return nil, fmt.Errorf("%w: completer", ErrMissingDependency)
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("%w: executor", ErrMissingDependency)
	}

	e := &Engine{
		cfg:       cfg,
		completer: deps.Completer,
		executor:  deps.Executor,
		prompts:   deps.Prompts,
		repairer:  deps.Repairer,
		logger:    deps.Logger,
	}

	if e.prompts == nil {
		lib, err := prompt.Parse(defaultPrompts)
		if err != nil {
			return nil, fmt.Errorf("load default prompts: %w", err)
		}
		e.prompts = lib
	}
	if e.repairer == nil {
		e.repairer = protocol.NewRepairer(deps.Completer, protocol.WithLogger(deps.Logger))
	}

	var def statemachine.Definition
	if deps.Definition != nil {
		def = *deps.Definition
	} else {
		var err error
		if def, err = DefaultDefinition(); err != nil {
			return nil, err
		}
	}

	table, err := statemachine.Compile[*cycle](def, nil)
	if err != nil {
		return nil, fmt.Errorf("compile search states: %w", err)
	}
	e.table = table

	e.handlers = map[string]handler{
		"Plan":              e.handlePlan,
		"PlanVote":          e.handlePlanVote,
		"SumPlanVotes":      e.handleSumPlanVotes,
		"ChoosePlan":        e.handleChoosePlan,
		"Propose":           e.handlePropose,
		"ProposeVote":       e.handleProposeVote,
		"SumProposeVotes":   e.handleSumProposeVotes,
		"ChooseProposition": e.handleChooseProposition,
		"Exec":              e.handleExec,
		"PlanErrorFix":      e.handlePlanErrorFix,
		"ExecVote":          e.handleExecVote,
		"SumExecVote":       e.handleSumExecVote,
	}

	idle := table.Idle()
	for _, path := range table.Paths() {
		s, _ := table.State(path)
		if s.IsGroup() || s.Within(idle) {
			continue
		}
		if _, ok := e.handlers[path]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoHandler, path)
		}
	}

	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Selection records the winner of one ChoosePlan or ChooseProposition.
type Selection struct {
	Step   int
	Kind   string // "plan" or "proposition"
	Index  int
	Scores []Scores
}

// Result summarizes a finished search.
type Result struct {
	Steps       int
	Language    string
	Code        string
	Output      string
	Error       string
	YesFraction float64
	ExecHistory string
	Selections  []Selection
	Transitions []statemachine.Dispatch
}

// Run searches for and executes a solution to task until the completion
// vote passes.
func (e *Engine) Run(ctx context.Context, task *protocol.Map) (*Result, error) {
	taskText, err := protocol.EncodeInner(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	ctx, span := tracing.StartSpan(ctx, "grove.tot", "tot.run",
		attribute.Int("plans", e.cfg.Plans),
		attribute.Int("voters", e.cfg.Voters),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)
	start := time.Now()

	m, err := statemachine.NewMachine(e.table, "",
		statemachine.WithName("tot"),
		statemachine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	c := newCycle(taskText, e.cfg)
	logger.Info().Int("plans", e.cfg.Plans).Int("voters", e.cfg.Voters).Msg("Search started")

	for !m.Idle() {
		if err := ctx.Err(); err != nil {
			return e.fail(span, start, err)
		}

		path := m.Path()
		h, ok := e.handlers[path]
		if !ok {
			return e.fail(span, start, fmt.Errorf("%w: %s", ErrNoHandler, path))
		}

		stateCtx, stateSpan := tracing.StartSpan(ctx, "grove.tot", "tot."+path, attribute.Int("step", c.step))
		trigger, err := h(stateCtx, c)
		if err != nil {
			stateSpan.RecordError(err)
			stateSpan.SetStatus(codes.Error, err.Error())
		}
		stateSpan.End()
		if err != nil {
			return e.fail(span, start, fmt.Errorf("%s: %w", path, err))
		}

		if err := m.Transition(trigger, c); err != nil {
			return e.fail(span, start, err)
		}
	}

	observability.RecordSearchRun(time.Since(start), true)
	logger.Info().
		Int("steps", c.step).
		Dur("duration", time.Since(start)).
		Msg("Search done")

	return &Result{
		Steps:       c.step,
		Language:    c.language,
		Code:        c.code,
		Output:      c.outcome.Stdout,
		Error:       c.outcome.Stderr,
		YesFraction: c.yesFraction,
		ExecHistory: c.execHistory.String(),
		Selections:  c.selections,
		Transitions: m.Log(),
	}, nil
}

func (e *Engine) fail(span trace.Span, start time.Time, err error) (*Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	observability.RecordSearchRun(time.Since(start), false)
	return nil, err
}
