package statemachine

import (
	"fmt"
	"sort"
	"strings"
)

// Guard reports whether a transition may fire for the context value c.
type Guard[C any] func(c C) bool

// State is a compiled state.
type State struct {
	Name     string
	Path     string
	Parent   *State
	Children []*State
	Initial  *State
}

// IsGroup reports whether the state has children.
func (s *State) IsGroup() bool {
	return len(s.Children) > 0
}

// leaf descends to the initial leaf of a group.
func (s *State) leaf() *State {
	for s.IsGroup() {
		s = s.Initial
	}
	return s
}

// Within reports whether s is group or lies inside it.
func (s *State) Within(group *State) bool {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur == group {
			return true
		}
	}
	return false
}

// Transition is a compiled transition.
type Transition[C any] struct {
	From      *State
	Trigger   string
	To        *State
	GuardName string
	guard     Guard[C]
}

func (t *Transition[C]) allows(c C) bool {
	return t.guard == nil || t.guard(c)
}

type transitionKey struct {
	from    string
	trigger string
}

// Table is an immutable compiled state machine, shared by any number of
// machines.
type Table[C any] struct {
	states      map[string]*State
	transitions map[transitionKey][]*Transition[C]
	initial     *State
	idle        *State
}

// Compile validates def and binds its guard names.
func Compile[C any](def Definition, guards map[string]Guard[C]) (*Table[C], error) {
	t := &Table[C]{
		states:      make(map[string]*State),
		transitions: make(map[transitionKey][]*Transition[C]),
	}

	for i := range def.States {
		if _, err := t.addState(&def.States[i], nil); err != nil {
			return nil, err
		}
	}

	var err error
	if t.initial, err = t.state(def.Initial); err != nil {
		return nil, fmt.Errorf("%w: initial: %w", ErrInvalidDefinition, err)
	}
	if t.idle, err = t.state(def.Idle); err != nil {
		return nil, fmt.Errorf("%w: idle: %w", ErrInvalidDefinition, err)
	}

	for _, td := range def.Transitions {
		from, err := t.state(td.From)
		if err != nil {
			return nil, fmt.Errorf("%w: transition %s/%s: %w", ErrInvalidDefinition, td.From, td.Trigger, err)
		}
		to, err := t.state(td.To)
		if err != nil {
			return nil, fmt.Errorf("%w: transition %s/%s: %w", ErrInvalidDefinition, td.From, td.Trigger, err)
		}

		tr := &Transition[C]{From: from, Trigger: td.Trigger, To: to, GuardName: td.Guard}
		if td.Guard != "" {
			guard, ok := guards[td.Guard]
			if !ok || guard == nil {
				return nil, fmt.Errorf("%w: transition %s/%s: unknown guard %q", ErrInvalidDefinition, from.Path, td.Trigger, td.Guard)
			}
			tr.guard = guard
		}

		key := transitionKey{from: from.Path, trigger: td.Trigger}
		for _, existing := range t.transitions[key] {
			if existing.guard == nil || tr.guard == nil || existing.GuardName == tr.GuardName {
				return nil, fmt.Errorf("%w: %w: %s/%s declared more than once", ErrInvalidDefinition, ErrAmbiguousTransition, from.Path, td.Trigger)
			}
		}
		t.transitions[key] = append(t.transitions[key], tr)
	}

	return t, nil
}

func (t *Table[C]) addState(def *StateDef, parent *State) (*State, error) {
	path := def.Name
	if parent != nil {
		path = parent.Path + "/" + def.Name
	}
	if def.Name == "" || strings.ContainsAny(def.Name, "./") {
		return nil, fmt.Errorf("%w: invalid state name %q", ErrInvalidDefinition, def.Name)
	}
	if _, exists := t.states[path]; exists {
		return nil, fmt.Errorf("%w: duplicate state %s", ErrInvalidDefinition, path)
	}

	s := &State{Name: def.Name, Path: path, Parent: parent}
	t.states[path] = s

	for i := range def.Children {
		child, err := t.addState(&def.Children[i], s)
		if err != nil {
			return nil, err
		}
		s.Children = append(s.Children, child)
	}

	if s.IsGroup() {
		if def.Initial == "" {
			return nil, fmt.Errorf("%w: group %s has no initial child", ErrInvalidDefinition, path)
		}
		for _, child := range s.Children {
			if child.Name == def.Initial {
				s.Initial = child
			}
		}
		if s.Initial == nil {
			return nil, fmt.Errorf("%w: group %s: initial child %q not found", ErrInvalidDefinition, path, def.Initial)
		}
	} else if def.Initial != "" {
		return nil, fmt.Errorf("%w: leaf %s declares an initial child", ErrInvalidDefinition, path)
	}

	return s, nil
}

// State returns the state at path.
func (t *Table[C]) State(path string) (*State, bool) {
	s, ok := t.states[normalizePath(path)]
	return s, ok
}

func (t *Table[C]) state(path string) (*State, error) {
	s, ok := t.State(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, path)
	}
	return s, nil
}

// Paths returns every state path in sorted order.
func (t *Table[C]) Paths() []string {
	paths := make([]string, 0, len(t.states))
	for path := range t.states {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Triggers returns the triggers declared on the given state itself.
func (t *Table[C]) Triggers(path string) []string {
	path = normalizePath(path)
	seen := make(map[string]bool)
	var triggers []string
	for key := range t.transitions {
		if key.from == path && !seen[key.trigger] {
			seen[key.trigger] = true
			triggers = append(triggers, key.trigger)
		}
	}
	sort.Strings(triggers)
	return triggers
}

// Idle returns the idle state.
func (t *Table[C]) Idle() *State {
	return t.idle
}

// resolve finds the single transition for trigger from s, searching enclosing
// groups outward. The nearest level declaring the trigger decides.
func (t *Table[C]) resolve(s *State, trigger string, c C) (*Transition[C], error) {
	for cur := s; cur != nil; cur = cur.Parent {
		candidates := t.transitions[transitionKey{from: cur.Path, trigger: trigger}]
		if len(candidates) == 0 {
			continue
		}

		var matched *Transition[C]
		for _, tr := range candidates {
			if !tr.allows(c) {
				continue
			}
			if matched != nil {
				return nil, ErrAmbiguousTransition
			}
			matched = tr
		}
		if matched == nil {
			return nil, fmt.Errorf("%w: no guard passed at %s", ErrNoTransition, cur.Path)
		}
		return matched, nil
	}
	return nil, ErrNoTransition
}

func normalizePath(path string) string {
	return strings.Trim(strings.ReplaceAll(path, ".", "/"), "/")
}
