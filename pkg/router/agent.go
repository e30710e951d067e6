package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/grove/pkg/protocol"
	"github.com/harun/grove/pkg/tot"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Runner solves a task. *tot.Engine is the usual implementation.
type Runner interface {
	Run(ctx context.Context, task *protocol.Map) (*tot.Result, error)
}

// EngineFactory builds the runner of a newly created agent.
type EngineFactory func(name, description string) (Runner, error)

// Agent is a named runner together with the tasks it has been given.
type Agent struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time

	runner Runner
	mu     sync.RWMutex
	tasks  []*protocol.Map
}

// NewAgent creates an agent with a generated ID.
func NewAgent(name, description string, runner Runner) (*Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: %s has no runner", ErrInvalidAgent, name)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate agent id: %w", err)
	}

	return &Agent{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   time.Now(),
		runner:      runner,
	}, nil
}

// AddTask appends task to the agent's task list.
func (a *Agent) AddTask(task *protocol.Map) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, task)
}

// Tasks returns the agent's tasks, oldest first.
func (a *Agent) Tasks() []*protocol.Map {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*protocol.Map(nil), a.tasks...)
}

// Run solves task with the agent's runner.
func (a *Agent) Run(ctx context.Context, task *protocol.Map) (*tot.Result, error) {
	return a.runner.Run(ctx, task)
}

// Markup renders the agent as a roster entry.
func (a *Agent) Markup(idx int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "<agent idx=\"%d\">\n", idx)
	b.WriteString("<name>" + protocol.EscapeText(a.Name) + "</name>\n")
	b.WriteString("<description>" + protocol.EscapeText(a.Description) + "</description>\n")
	b.WriteString("<tasks>\n")
	for _, task := range a.Tasks() {
		text, err := protocol.EncodeInner(task)
		if err != nil {
			return "", fmt.Errorf("encode task of %s: %w", a.Name, err)
		}
		b.WriteString(text + "\n")
	}
	b.WriteString("</tasks>\n")
	b.WriteString("</agent>\n")
	return b.String(), nil
}
