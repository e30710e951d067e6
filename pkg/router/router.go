package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/grove/internal/observability"
	"github.com/harun/grove/internal/tracing"
	"github.com/harun/grove/pkg/memory"
	"github.com/harun/grove/pkg/model"
	"github.com/harun/grove/pkg/prompt"
	"github.com/harun/grove/pkg/protocol"
	"github.com/harun/grove/pkg/statemachine"
	"github.com/harun/grove/pkg/tot"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TriggerRoute starts routing a task from the idle state.
	TriggerRoute = "Route"

	outputStart = "<output>"
	outputStop  = "</output>"

	suffixAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength    = 6
	maxNameAttempts = 8
)

// Dependencies are the collaborators of a Router.
type Dependencies struct {
	Completer model.Completer
	Factory   EngineFactory

	// Prompts defaults to the built-in prompt library
	Prompts memory.Renderer

	// Repairer defaults to one built over Completer
	Repairer *protocol.Repairer

	// Definition defaults to the built-in state table
	Definition *statemachine.Definition

	// Registry defaults to an empty one
	Registry *Registry

	Logger zerolog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithTemperature sets the temperature of routing calls.
func WithTemperature(temperature float64) Option {
	return func(r *Router) {
		r.temperature = temperature
	}
}

// WithSuffixGenerator overrides how colliding agent names are disambiguated.
func WithSuffixGenerator(fn func() (string, error)) Option {
	return func(r *Router) {
		r.suffix = fn
	}
}

type handler func(ctx context.Context, c *route) (string, error)

// Router assigns tasks to agents, creating agents when none fits.
type Router struct {
	completer   model.Completer
	factory     EngineFactory
	prompts     memory.Renderer
	repairer    *protocol.Repairer
	registry    *Registry
	table       *statemachine.Table[*route]
	handlers    map[string]handler
	temperature float64
	suffix      func() (string, error)
	logger      zerolog.Logger
}

// route is the state threaded through the handlers of one Route call.
type route struct {
	task     *protocol.Map
	taskText string
	memory   *memory.Stream

	agent   *Agent
	created bool
	result  *tot.Result
}

// Outcome describes how a task was routed.
type Outcome struct {
	Agent       string
	AgentID     string
	Created     bool
	Result      *tot.Result
	Transitions []statemachine.Dispatch
}

// New creates a router.
func New(deps Dependencies, opts ...Option) (*Router, error) {
	if deps.Completer == nil {
		return nil, fmt.Errorf("%w: completer", ErrMissingDependency)
	}
	if deps.Factory == nil {
		return nil, fmt.Errorf("%w: engine factory", ErrMissingDependency)
	}

	r := &Router{
		completer: deps.Completer,
		factory:   deps.Factory,
		prompts:   deps.Prompts,
		repairer:  deps.Repairer,
		registry:  deps.Registry,
		logger:    deps.Logger,
		suffix: func() (string, error) {
			return gonanoid.Generate(suffixAlphabet, suffixLength)
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.prompts == nil {
		lib, err := prompt.Parse(defaultPrompts)
		if err != nil {
			return nil, fmt.Errorf("load default prompts: %w", err)
		}
		r.prompts = lib
	}
	if r.repairer == nil {
		r.repairer = protocol.NewRepairer(deps.Completer, protocol.WithLogger(deps.Logger))
	}
	if r.registry == nil {
		r.registry = NewRegistry()
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

	table, err := statemachine.Compile(def, map[string]statemachine.Guard[*route]{
		"matched":   func(c *route) bool { return c.agent != nil },
		"unmatched": func(c *route) bool { return c.agent == nil },
	})
	if err != nil {
		return nil, fmt.Errorf("compile routing states: %w", err)
	}
	r.table = table

	r.handlers = map[string]handler{
		"Route/Select":      r.handleSelect,
		"Route/CreateAgent": r.handleCreateAgent,
		"Route/AssignAgent": r.handleAssignAgent,
	}

	idle := table.Idle()
	for _, path := range table.Paths() {
		s, _ := table.State(path)
		if s.IsGroup() || s.Within(idle) {
			continue
		}
		if _, ok := r.handlers[path]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoHandler, path)
		}
	}

	observability.SetActiveAgents(r.registry.Count())
	return r, nil
}

// Registry returns the agent roster.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Agents returns all agents in registration order.
func (r *Router) Agents() []*Agent {
	return r.registry.List()
}

// Get returns the agent with exactly this name.
func (r *Router) Get(name string) (*Agent, bool) {
	return r.registry.Get(name)
}

// Count returns the number of agents.
func (r *Router) Count() int {
	return r.registry.Count()
}

// Register adds an agent to the roster.
func (r *Router) Register(agent *Agent) error {
	if err := r.registry.Register(agent); err != nil {
		return err
	}
	observability.SetActiveAgents(r.registry.Count())
	return nil
}

// Route fires trigger and drives the routing machine until it is idle
// again. The chosen or created agent runs task before Route returns.
func (r *Router) Route(ctx context.Context, trigger string, task *protocol.Map) (*Outcome, error) {
	taskText, err := protocol.EncodeInner(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	ctx = tracing.NewTaskContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "grove.router", "router.route",
		attribute.String("trigger", trigger),
		attribute.Int("agents", r.registry.Count()),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	m, err := statemachine.NewMachine(r.table, "",
		statemachine.WithName("router"),
		statemachine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	c := &route{
		task:     task,
		taskText: taskText,
		memory:   memory.NewStream(memory.NoIndex, memory.NoIndex),
	}

	if err := m.Transition(trigger, c); err != nil {
		return r.fail(span, err)
	}

	for !m.Idle() {
		if err := ctx.Err(); err != nil {
			return r.fail(span, err)
		}

		path := m.Path()
		h, ok := r.handlers[path]
		if !ok {
			return r.fail(span, fmt.Errorf("%w: %s", ErrNoHandler, path))
		}

		next, err := h(ctx, c)
		if err != nil {
			return r.fail(span, fmt.Errorf("%s: %w", path, err))
		}
		if err := m.Transition(next, c); err != nil {
			return r.fail(span, err)
		}
	}

	outcome := "assigned"
	if c.created {
		outcome = "created"
	}
	observability.RecordRouted(outcome)
	observability.RecordRouteAudit(ctx, c.agent.Name, outcome, map[string]interface{}{
		"agent_id": c.agent.ID,
		"steps":    c.result.Steps,
	})

	span.SetAttributes(attribute.String("agent", c.agent.Name), attribute.Bool("created", c.created))
	logger.Info().
		Str("agent", c.agent.Name).
		Bool("created", c.created).
		Dur("duration", time.Since(start)).
		Msg("Task routed")

	return &Outcome{
		Agent:       c.agent.Name,
		AgentID:     c.agent.ID,
		Created:     c.created,
		Result:      c.result,
		Transitions: m.Log(),
	}, nil
}

func (r *Router) fail(span trace.Span, err error) (*Outcome, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	observability.RecordRouted("failed")
	return nil, err
}

func (r *Router) handleSelect(ctx context.Context, c *route) (string, error) {
	roster, err := r.registry.Roster()
	if err != nil {
		return "", err
	}

	reply, err := r.ask(ctx, c, "Route/Select", map[string]any{
		"agents_str": roster,
		"task":       c.taskText,
	})
	if err != nil {
		return "", err
	}

	logger := tracing.LoggerFromContext(ctx, r.logger)
	name, _ := protocol.LookupString(reply, "name")
	name = strings.TrimSpace(name)
	if name == "" {
		logger.Info().Msg("No agent selected")
		return "Dispatch", nil
	}

	agent, ok := r.registry.Get(name)
	if !ok {
		logger.Warn().Str("agent", name).Msg("Selected agent is not in the roster, creating a new one")
		return "Dispatch", nil
	}

	c.agent = agent
	return "Dispatch", nil
}

func (r *Router) handleCreateAgent(ctx context.Context, c *route) (string, error) {
	reply, err := r.ask(ctx, c, "Route/CreateAgent", map[string]any{"task": c.taskText})
	if err != nil {
		return "", err
	}

	name, _ := protocol.LookupString(reply, "name")
	description, _ := protocol.LookupString(reply, "description")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: model proposed no name", ErrInvalidAgent)
	}

	agent, err := r.create(name, description)
	if err != nil {
		return "", err
	}
	c.created = true

	observability.RecordAgentAudit(ctx, "agent:create", agent.Name, map[string]interface{}{
		"agent_id":    agent.ID,
		"description": agent.Description,
	})
	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Info().
		Str("agent", agent.Name).
		Str("agentId", agent.ID).
		Msg("Agent created")

	return r.run(ctx, c, agent)
}

func (r *Router) handleAssignAgent(ctx context.Context, c *route) (string, error) {
	return r.run(ctx, c, c.agent)
}

// ask renders the prompts at path into the route's memory and decodes the
// model's output element.
func (r *Router) ask(ctx context.Context, c *route, path string, vars map[string]any) (*protocol.Map, error) {
	if err := c.memory.LoadSystem(r.prompts, path, vars); err != nil {
		return nil, err
	}
	if err := c.memory.LoadUser(r.prompts, path, vars); err != nil {
		return nil, err
	}
	c.memory.LoadAssistantPrefill(outputStart)

	text, err := r.completer.Complete(ctx, c.memory.Request([]string{outputStop}, r.temperature))
	if err != nil {
		return nil, err
	}
	c.memory.StoreReply(outputStart + text + outputStop)

	return r.repairer.Decode(ctx, text)
}

// create builds and registers an agent, suffixing the name until it is
// free.
func (r *Router) create(name, description string) (*Agent, error) {
	base := name
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		if attempt > 0 {
			suffix, err := r.suffix()
			if err != nil {
				return nil, fmt.Errorf("generate name suffix: %w", err)
			}
			name = base + "-" + suffix
		}
		if r.registry.Exists(name) {
			continue
		}

		runner, err := r.factory(name, description)
		if err != nil {
			return nil, fmt.Errorf("build engine for %s: %w", name, err)
		}
		agent, err := NewAgent(name, description, runner)
		if err != nil {
			return nil, err
		}

		err = r.Register(agent)
		if errors.Is(err, ErrAgentExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return agent, nil
	}
	return nil, fmt.Errorf("%w: no free name for %s after %d attempts", ErrAgentExists, base, maxNameAttempts)
}

// run gives task to agent and runs it.
func (r *Router) run(ctx context.Context, c *route, agent *Agent) (string, error) {
	agent.AddTask(c.task)
	c.agent = agent

	result, err := agent.Run(tracing.PropagateToAgent(ctx, agent.ID), c.task)
	if err != nil {
		observability.RecordSearchAudit(ctx, agent.Name, "failed", map[string]interface{}{
			"error": err.Error(),
		})
		return "", fmt.Errorf("agent %s: %w", agent.Name, err)
	}

	observability.RecordSearchAudit(ctx, agent.Name, "success", map[string]interface{}{
		"steps":        result.Steps,
		"yes_fraction": result.YesFraction,
	})
	c.result = result
	return "Finish", nil
}
