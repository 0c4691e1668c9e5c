package core

import (
	"fmt"

	"entitycore/metrics"

	"go.uber.org/zap"
)

// State is an opaque lifecycle state token
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Action is an opaque token naming a requested state change
type Action string

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// Edge is one legal transition: applying Action while in From moves to To.
type Edge struct {
	Action Action `json:"action" yaml:"action"`
	From   State  `json:"from" yaml:"from"`
	To     State  `json:"to" yaml:"to"`
}

// MachineDefinition is the structural description of a flat state machine.
// StateField and ActionField name the fields callers read and write; the
// engine treats them as metadata only.
type MachineDefinition struct {
	Key          string `json:"key" yaml:"key"`
	StateField   string `json:"state_field" yaml:"state_field"`
	ActionField  string `json:"action_field" yaml:"action_field"`
	DefaultState State  `json:"default_state" yaml:"default_state"`
	Edges        []Edge `json:"edges" yaml:"edges"`
}

type edgeKey struct {
	from   State
	action Action
}

// Machine is an immutable, validated MachineDefinition with an O(1) lookup index.
// Edges are indexed in registration order and the first edge for a given
// (from, action) pair wins; later duplicates are kept only for Definition().
type Machine struct {
	def      MachineDefinition
	index    map[edgeKey]State
	shadowed []Edge
	actions  map[State][]Action
}

// MachineOption configures NewMachine
type MachineOption func(*machineOptions)

type machineOptions struct {
	logger *zap.SugaredLogger
}

// WithMachineLogger sets the logger used to report shadowed edges
func WithMachineLogger(logger *zap.SugaredLogger) MachineOption {
	return func(o *machineOptions) {
		o.logger = logger
	}
}

// NewMachine builds a Machine from def. The edge slice is copied.
func NewMachine(def MachineDefinition, opts ...MachineOption) (*Machine, error) {
	o := machineOptions{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}

	if def.Key == "" {
		return nil, fmt.Errorf("%w: key cannot be empty", ErrInvalidMachine)
	}
	if def.DefaultState == "" {
		return nil, fmt.Errorf("%w: machine %s has no default state", ErrInvalidMachine, def.Key)
	}

	edges := make([]Edge, len(def.Edges))
	copy(edges, def.Edges)
	def.Edges = edges

	m := &Machine{
		def:     def,
		index:   make(map[edgeKey]State, len(edges)),
		actions: make(map[State][]Action),
	}

	for i, e := range edges {
		if e.Action == "" || e.From == "" || e.To == "" {
			return nil, fmt.Errorf("%w: machine %s edge %d has empty field: %+v", ErrInvalidMachine, def.Key, i, e)
		}
		k := edgeKey{from: e.From, action: e.Action}
		if winner, dup := m.index[k]; dup {
			m.shadowed = append(m.shadowed, e)
			metrics.ShadowedEdges.WithLabelValues(def.Key).Inc()
			o.logger.Warnw("Transition edge shadowed by earlier edge",
				"machine", def.Key,
				"from", e.From,
				"action", e.Action,
				"ignored_to", e.To,
				"effective_to", winner)
			continue
		}
		m.index[k] = e.To
		m.actions[e.From] = append(m.actions[e.From], e.Action)
	}

	return m, nil
}

// MustNewMachine is NewMachine for package-level lifecycle definitions
func MustNewMachine(def MachineDefinition, opts ...MachineOption) *Machine {
	m, err := NewMachine(def, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Key returns the machine identity
func (m *Machine) Key() string { return m.def.Key }

// DefaultState returns the state new entities start in
func (m *Machine) DefaultState() State { return m.def.DefaultState }

// Apply resolves the next state. An action with no matching edge leaves the
// state unchanged.
func (m *Machine) Apply(from State, action Action) State {
	to, ok := m.index[edgeKey{from: from, action: action}]
	if !ok {
		return from
	}
	return to
}

// ApplyStrict is Apply but reports an unmatched action as *IllegalTransitionError.
func (m *Machine) ApplyStrict(from State, action Action) (State, error) {
	to, ok := m.index[edgeKey{from: from, action: action}]
	if !ok {
		return from, &IllegalTransitionError{
			Machine: m.def.Key,
			From:    from,
			Action:  action,
			Allowed: m.AllowedActions(from),
		}
	}
	return to, nil
}

// CanApply reports whether an edge exists for (from, action)
func (m *Machine) CanApply(from State, action Action) bool {
	_, ok := m.index[edgeKey{from: from, action: action}]
	return ok
}

// AllowedActions returns the actions with an edge out of from, in registration order.
func (m *Machine) AllowedActions(from State) []Action {
	actions := m.actions[from]
	result := make([]Action, len(actions))
	copy(result, actions)
	return result
}

// IsTerminal reports whether no edge leaves state
func (m *Machine) IsTerminal(state State) bool {
	return len(m.actions[state]) == 0
}

// Shadowed returns the edges ignored because an earlier edge had the same from/action pair
func (m *Machine) Shadowed() []Edge {
	result := make([]Edge, len(m.shadowed))
	copy(result, m.shadowed)
	return result
}

// Definition returns a copy of the machine's structure, including shadowed
// edges, for serialization to external consumers.
func (m *Machine) Definition() MachineDefinition {
	def := m.def
	def.Edges = make([]Edge, len(m.def.Edges))
	copy(def.Edges, m.def.Edges)
	return def
}
