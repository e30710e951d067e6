package statemachine

import (
	"time"

	"github.com/harun/grove/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultLogLimit bounds the dispatch log kept by a machine.
const DefaultLogLimit = 256

// Dispatch is one fired trigger.
type Dispatch struct {
	From    string
	Trigger string
	To      string
	At      time.Time
}

type machineOptions struct {
	name     string
	logger   zerolog.Logger
	logLimit int
}

// MachineOption configures a Machine.
type MachineOption func(*machineOptions)

// WithName labels the machine in logs and metrics.
func WithName(name string) MachineOption {
	return func(o *machineOptions) {
		o.name = name
	}
}

// WithLogger sets the machine logger.
func WithLogger(logger zerolog.Logger) MachineOption {
	return func(o *machineOptions) {
		o.logger = logger
	}
}

// WithLogLimit bounds the dispatch log; zero keeps nothing.
func WithLogLimit(n int) MachineOption {
	return func(o *machineOptions) {
		if n >= 0 {
			o.logLimit = n
		}
	}
}

// Machine is a running instance of a Table. It is not safe for concurrent
// use; each machine belongs to a single owner.
type Machine[C any] struct {
	table   *Table[C]
	current *State
	log     []Dispatch
	opts    machineOptions
}

// NewMachine creates a machine positioned at initial, or at the table's
// initial state when initial is empty.
func NewMachine[C any](table *Table[C], initial string, opts ...MachineOption) (*Machine[C], error) {
	o := machineOptions{
		name:     "machine",
		logger:   zerolog.Nop(),
		logLimit: DefaultLogLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	start := table.initial
	if initial != "" {
		s, err := table.state(initial)
		if err != nil {
			return nil, err
		}
		start = s
	}

	return &Machine[C]{
		table:   table,
		current: start.leaf(),
		opts:    o,
	}, nil
}

// Transition fires trigger from the current state. c is passed to guards.
func (m *Machine[C]) Transition(trigger string, c C) error {
	from := m.current

	tr, err := m.table.resolve(from, trigger, c)
	if err != nil {
		m.opts.logger.Error().
			Str("machine", m.opts.name).
			Str("state", from.Path).
			Str("trigger", trigger).
			Err(err).
			Msg("Transition failed")
		return &TransitionError{State: from.Path, Trigger: trigger, Err: err}
	}

	m.current = tr.To.leaf()
	m.record(Dispatch{From: from.Path, Trigger: trigger, To: m.current.Path, At: time.Now()})
	observability.RecordTransition(m.opts.name, m.current.Path)

	m.opts.logger.Debug().
		Str("machine", m.opts.name).
		Str("from", from.Path).
		Str("trigger", trigger).
		Str("to", m.current.Path).
		Msg("Transition")
	return nil
}

// Path returns the path of the current state.
func (m *Machine[C]) Path() string {
	return m.current.Path
}

// Current returns the current state.
func (m *Machine[C]) Current() *State {
	return m.current
}

// Idle reports whether the machine is in the idle state.
func (m *Machine[C]) Idle() bool {
	return m.current.Within(m.table.idle)
}

// Log returns a copy of the dispatch log, oldest first.
func (m *Machine[C]) Log() []Dispatch {
	return append([]Dispatch(nil), m.log...)
}

func (m *Machine[C]) record(d Dispatch) {
	if m.opts.logLimit == 0 {
		return
	}
	if len(m.log) >= m.opts.logLimit {
		copy(m.log, m.log[1:])
		m.log = m.log[:len(m.log)-1]
	}
	m.log = append(m.log, d)
}
