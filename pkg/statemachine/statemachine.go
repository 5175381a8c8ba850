package statemachine

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// State names a state.
type State string

// Event names an event that moves a machine between states.
type Event string

// Transition moves a machine from From to To when Event fires.
type Transition struct {
	From  State
	Event Event
	To    State
}

// Hook observes every successful transition.
type Hook func(ctx context.Context, from, to State, event Event)

// Definition is an immutable transition table.
type Definition struct {
	initial     State
	transitions map[State]map[Event]State
	terminal    map[State]struct{}
}

// Define validates and builds a Definition. Terminal states may not have
// outgoing transitions, and each (From, Event) pair must be unique.
func Define(initial State, transitions []Transition, terminal ...State) (*Definition, error) {
	if initial == "" {
		return nil, ErrInvalidTransition
	}

	d := &Definition{
		initial:     initial,
		transitions: make(map[State]map[Event]State),
		terminal:    make(map[State]struct{}, len(terminal)),
	}
	for _, s := range terminal {
		d.terminal[s] = struct{}{}
	}

	for i, t := range transitions {
		if t.From == "" || t.To == "" || t.Event == "" {
			return nil, fmt.Errorf("transition[%d]: %w", i, ErrInvalidTransition)
		}
		if _, ok := d.terminal[t.From]; ok {
			return nil, fmt.Errorf("transition[%d] %s on %s: %w", i, t.From, t.Event, ErrTerminalState)
		}
		if d.transitions[t.From] == nil {
			d.transitions[t.From] = make(map[Event]State)
		}
		if _, dup := d.transitions[t.From][t.Event]; dup {
			return nil, fmt.Errorf("transition[%d] %s on %s: %w", i, t.From, t.Event, ErrDuplicateTransition)
		}
		d.transitions[t.From][t.Event] = t.To
	}

	return d, nil
}

// MustDefine is like Define but panics on error.
func MustDefine(initial State, transitions []Transition, terminal ...State) *Definition {
	d, err := Define(initial, transitions, terminal...)
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return d
}

func (d *Definition) Initial() State {
	return d.initial
}

// IsTerminal reports whether s has been declared terminal.
func (d *Definition) IsTerminal(s State) bool {
	_, ok := d.terminal[s]
	return ok
}

// Target returns the state event leads to from s.
func (d *Definition) Target(s State, event Event) (State, bool) {
	to, ok := d.transitions[s][event]
	return to, ok
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithHook registers h to run after every transition.
func WithHook(h Hook) MachineOption {
	return func(m *Machine) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

// Machine tracks one entity through a Definition.
type Machine struct {
	def     *Definition
	mu      sync.Mutex
	current State
	history []State
	hooks   []Hook
}

// Start returns a Machine positioned at the initial state.
func (d *Definition) Start(opts ...MachineOption) *Machine {
	m := &Machine{def: d, current: d.initial, history: []State{d.initial}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns every state visited, starting with the initial one.
func (m *Machine) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

func (m *Machine) Done() bool {
	return m.def.IsTerminal(m.Current())
}

// CanFire reports whether event is accepted in the current state.
func (m *Machine) CanFire(event Event) bool {
	_, ok := m.def.Target(m.Current(), event)
	return ok
}

// Fire applies event. Hooks run after the state has changed, outside the lock.
func (m *Machine) Fire(ctx context.Context, event Event) error {
	m.mu.Lock()
	from := m.current
	if m.def.IsTerminal(from) {
		m.mu.Unlock()
		return &TransitionError{From: from, Event: event, Err: ErrTerminalState}
	}
	to, ok := m.def.Target(from, event)
	if !ok {
		m.mu.Unlock()
		return &TransitionError{From: from, Event: event, Err: ErrNoTransitionAvailable}
	}
	m.current = to
	m.history = append(m.history, to)
	hooks := m.hooks
	m.mu.Unlock()

	for _, h := range hooks {
		h(ctx, from, to, event)
	}
	return nil
}
