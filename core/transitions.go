package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"entitycore/metrics"

	"go.uber.org/zap"
)

// TransitionEngine holds the machines of every entity type, keyed by machine key.
// Machines are immutable, so only the key map needs the lock.
type TransitionEngine struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	strict   bool
	logger   *zap.SugaredLogger
}

// NewTransitionEngine creates an empty engine. With strict set, Apply returns
// *IllegalTransitionError instead of absorbing unmatched actions.
func NewTransitionEngine(strict bool, logger *zap.SugaredLogger) *TransitionEngine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TransitionEngine{
		machines: make(map[string]*Machine),
		strict:   strict,
		logger:   logger,
	}
}

// Strict reports whether illegal transitions are rejected
func (te *TransitionEngine) Strict() bool {
	return te.strict
}

// Register adds m under its key
func (te *TransitionEngine) Register(m *Machine) error {
	if m == nil {
		return fmt.Errorf("%w: nil machine", ErrInvalidMachine)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.machines[m.Key()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMachine, m.Key())
	}
	te.machines[m.Key()] = m
	te.logger.Debugw("State machine registered",
		"machine", m.Key(),
		"default_state", m.DefaultState(),
		"edges", len(m.def.Edges))
	return nil
}

// Machine returns the machine registered under key
func (te *TransitionEngine) Machine(key string) (*Machine, error) {
	te.mu.RLock()
	m, ok := te.machines[key]
	te.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMachine, key)
	}
	return m, nil
}

// Apply resolves the next state of machine key. In permissive mode an
// unmatched action returns from with a nil error.
func (te *TransitionEngine) Apply(key string, from State, action Action) (State, error) {
	m, err := te.Machine(key)
	if err != nil {
		return from, err
	}

	to, err := m.ApplyStrict(from, action)
	if err != nil {
		var ite *IllegalTransitionError
		if !errors.As(err, &ite) {
			return from, err
		}
		if te.strict {
			metrics.TransitionsApplied.WithLabelValues(key, "rejected").Inc()
			return from, err
		}
		metrics.TransitionsApplied.WithLabelValues(key, "noop").Inc()
		te.logger.Debugw("Transition absorbed as no-op",
			"machine", key,
			"from", from,
			"action", action)
		return from, nil
	}

	metrics.TransitionsApplied.WithLabelValues(key, "applied").Inc()
	return to, nil
}

// CanApply reports whether machine key declares an edge for (from, action).
// It separates a matched self-loop from a permissive no-op, which Apply
// reports identically.
func (te *TransitionEngine) CanApply(key string, from State, action Action) (bool, error) {
	m, err := te.Machine(key)
	if err != nil {
		return false, err
	}
	return m.CanApply(from, action), nil
}

// Describe returns the structural snapshot of machine key
func (te *TransitionEngine) Describe(key string) (MachineDefinition, error) {
	m, err := te.Machine(key)
	if err != nil {
		return MachineDefinition{}, err
	}
	return m.Definition(), nil
}

// Keys returns all registered machine keys, sorted
func (te *TransitionEngine) Keys() []string {
	te.mu.RLock()
	keys := make([]string, 0, len(te.machines))
	for k := range te.machines {
		keys = append(keys, k)
	}
	te.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
