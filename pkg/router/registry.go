package router

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds the agent roster in registration order.
type Registry struct {
	agents map[string]*Agent
	order  []string
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
	}
}

// Register adds an agent. Names are unique.
func (r *Registry) Register(agent *Agent) error {
	if agent == nil || agent.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, agent.Name)
	}

	r.agents[agent.Name] = agent
	r.order = append(r.order, agent.Name)
	return nil
}

// Get returns the agent with exactly this name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[name]
	return agent, exists
}

// Exists reports whether name is taken.
func (r *Registry) Exists(name string) bool {
	_, exists := r.Get(name)
	return exists
}

// List returns all agents in registration order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		agents = append(agents, r.agents[name])
	}
	return agents
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.agents)
}

// Roster renders every agent as markup for the routing prompt.
func (r *Registry) Roster() (string, error) {
	var b strings.Builder
	for i, agent := range r.List() {
		entry, err := agent.Markup(i)
		if err != nil {
			return "", err
		}
		b.WriteString(entry)
	}
	return b.String(), nil
}
