package core

import (
	"errors"
	"fmt"
)

// Identifier registry errors
var (
	// ErrInvalidRegistration is returned when a prefix or entity type is empty
	ErrInvalidRegistration = errors.New("prefix and entity type must be non-empty")

	// ErrDuplicateRegistration is returned when a prefix or entity type is already bound
	ErrDuplicateRegistration = errors.New("duplicate identifier registration")

	// ErrUnknownKey is the parent of every lookup failure on the identifier registry
	ErrUnknownKey = errors.New("unknown identifier key")

	// ErrUnknownPrefix is returned by NextByPrefix for an unregistered prefix
	ErrUnknownPrefix = fmt.Errorf("%w: prefix not registered", ErrUnknownKey)

	// ErrUnknownEntityType is returned by NextByEntityType for an unregistered entity type
	ErrUnknownEntityType = fmt.Errorf("%w: entity type not registered", ErrUnknownKey)

	// ErrCounterExhausted is returned when a generator has issued math.MaxUint64 identifiers
	ErrCounterExhausted = errors.New("identifier counter exhausted")
)

// Transition engine errors
var (
	// ErrIllegalTransition is returned in strict mode when no edge matches
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrUnknownMachine is returned when a machine key has not been registered
	ErrUnknownMachine = errors.New("unknown state machine")

	// ErrDuplicateMachine is returned when a machine key is registered twice
	ErrDuplicateMachine = errors.New("state machine already registered")

	// ErrInvalidMachine is returned when a machine definition cannot be built
	ErrInvalidMachine = errors.New("invalid state machine definition")
)

// Invalidation errors
var (
	// ErrCacheEviction is the parent of every CacheEvictionError
	ErrCacheEviction = errors.New("cache eviction failed")

	// ErrNoEvictor is returned by FlushSync when the registry has no cache attached
	ErrNoEvictor = errors.New("no evictor configured")
)

// RegistrationError reports which key collided during Register.
type RegistrationError struct {
	Prefix     string
	EntityType string
	Conflict   string // "prefix", "entity_type" or "both"
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%v: prefix=%q entity_type=%q (conflict on %s)",
		ErrDuplicateRegistration, e.Prefix, e.EntityType, e.Conflict)
}

func (e *RegistrationError) Unwrap() error {
	return ErrDuplicateRegistration
}

// IllegalTransitionError describes a (from, action) pair with no edge.
type IllegalTransitionError struct {
	Machine string
	From    State
	Action  Action
	Allowed []Action
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%v: machine %s has no edge for action %s from %s (allowed: %v)",
		ErrIllegalTransition, e.Machine, e.Action, e.From, e.Allowed)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// CacheEvictionError wraps a failed Evict call with the triggers it was asked to drop.
type CacheEvictionError struct {
	EntityType string
	Triggers   []string
	Err        error
}

func (e *CacheEvictionError) Error() string {
	return fmt.Sprintf("%v for %s %v: %v", ErrCacheEviction, e.EntityType, e.Triggers, e.Err)
}

func (e *CacheEvictionError) Unwrap() []error {
	return []error{ErrCacheEviction, e.Err}
}
