package core

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"entitycore/metrics"

	"go.uber.org/zap"
)

// DefaultSequenceWidth is the zero padding applied to identifier counters.
const DefaultSequenceWidth = 9

// Generator issues prefix-scoped sequential identifiers such as "ORD-000000001".
// A Generator is safe for concurrent use.
type Generator struct {
	prefix     string
	entityType string
	width      int
	seed       uint64
	counter    atomic.Uint64
}

// NewGenerator creates a generator whose first identifier is seed+1.
func NewGenerator(prefix, entityType string, width int, seed uint64) *Generator {
	if width <= 0 {
		width = DefaultSequenceWidth
	}
	g := &Generator{
		prefix:     prefix,
		entityType: entityType,
		width:      width,
		seed:       seed,
	}
	g.counter.Store(seed)
	return g
}

// Prefix returns the prefix owned by this generator
func (g *Generator) Prefix() string { return g.prefix }

// EntityType returns the entity type bound to this generator
func (g *Generator) EntityType() string { return g.entityType }

// Next returns the next identifier. The counter never wraps; once it reaches
// math.MaxUint64 every call fails with ErrCounterExhausted.
func (g *Generator) Next() (string, error) {
	for {
		cur := g.counter.Load()
		if cur == math.MaxUint64 {
			return "", ErrCounterExhausted
		}
		if g.counter.CompareAndSwap(cur, cur+1) {
			return g.format(cur + 1), nil
		}
	}
}

// Last returns the most recently issued identifier, or "" if none was issued.
func (g *Generator) Last() string {
	cur := g.counter.Load()
	if cur == g.seed {
		return ""
	}
	return g.format(cur)
}

// Issued returns how many identifiers this generator has handed out
func (g *Generator) Issued() uint64 {
	return g.counter.Load() - g.seed
}

// format pads to width; larger values are printed in full.
func (g *Generator) format(n uint64) string {
	return fmt.Sprintf("%s%0*d", g.prefix, g.width, n)
}

// IdentifierEntry is a read-only view of one registration.
type IdentifierEntry struct {
	Prefix     string `json:"prefix"`
	EntityType string `json:"entity_type"`
	Last       string `json:"last,omitempty"`
	Issued     uint64 `json:"issued"`
}

// IdentifierRegistry maps prefixes and entity type names to a shared Generator.
// Both keys of a registration point at the same generator, so allocations made
// through either path draw from one counter.
type IdentifierRegistry struct {
	mu           sync.RWMutex
	byPrefix     map[string]*Generator
	byEntityType map[string]*Generator
	width        int
	seed         uint64
	logger       *zap.SugaredLogger
}

// NewIdentifierRegistry creates an empty registry. width <= 0 selects DefaultSequenceWidth.
func NewIdentifierRegistry(width int, seed uint64, logger *zap.SugaredLogger) *IdentifierRegistry {
	if width <= 0 {
		width = DefaultSequenceWidth
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &IdentifierRegistry{
		byPrefix:     make(map[string]*Generator),
		byEntityType: make(map[string]*Generator),
		width:        width,
		seed:         seed,
		logger:       logger,
	}
}

// Register binds prefix and entityType to a new generator.
// Either key already being bound is a *RegistrationError, even when the
// existing binding pairs the same two names.
func (r *IdentifierRegistry) Register(prefix, entityType string) error {
	if prefix == "" || entityType == "" {
		return fmt.Errorf("%w: prefix=%q entity_type=%q", ErrInvalidRegistration, prefix, entityType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, prefixTaken := r.byPrefix[prefix]
	_, typeTaken := r.byEntityType[entityType]
	switch {
	case prefixTaken && typeTaken:
		return &RegistrationError{Prefix: prefix, EntityType: entityType, Conflict: "both"}
	case prefixTaken:
		return &RegistrationError{Prefix: prefix, EntityType: entityType, Conflict: "prefix"}
	case typeTaken:
		return &RegistrationError{Prefix: prefix, EntityType: entityType, Conflict: "entity_type"}
	}

	g := NewGenerator(prefix, entityType, r.width, r.seed)
	r.byPrefix[prefix] = g
	r.byEntityType[entityType] = g

	r.logger.Debugw("Identifier prefix registered", "prefix", prefix, "entity_type", entityType)
	return nil
}

// Exists reports whether prefix and entityType are both registered to the same
// generator. A half-registered pair is logged as an inconsistency and reported
// as false so callers can skip registration without crashing.
func (r *IdentifierRegistry) Exists(prefix, entityType string) bool {
	r.mu.RLock()
	gp, okPrefix := r.byPrefix[prefix]
	ge, okType := r.byEntityType[entityType]
	r.mu.RUnlock()

	switch {
	case okPrefix && okType && gp == ge:
		return true
	case okPrefix && okType:
		r.logger.Warnw("Identifier registry inconsistency: prefix and entity type bound to different generators",
			"prefix", prefix,
			"entity_type", entityType,
			"prefix_owner", gp.entityType,
			"entity_type_prefix", ge.prefix)
	case okPrefix || okType:
		r.logger.Warnw("Identifier registry inconsistency: only one key of the pair is registered",
			"prefix", prefix,
			"entity_type", entityType,
			"prefix_registered", okPrefix,
			"entity_type_registered", okType)
	}
	return false
}

// NextByPrefix allocates the next identifier for prefix
func (r *IdentifierRegistry) NextByPrefix(prefix string) (string, error) {
	r.mu.RLock()
	g, ok := r.byPrefix[prefix]
	r.mu.RUnlock()
	if !ok {
		metrics.IDAllocationErrors.WithLabelValues("unknown_prefix").Inc()
		return "", fmt.Errorf("%w: %q", ErrUnknownPrefix, prefix)
	}
	return r.next(g)
}

// NextByEntityType allocates the next identifier for entityType
func (r *IdentifierRegistry) NextByEntityType(entityType string) (string, error) {
	r.mu.RLock()
	g, ok := r.byEntityType[entityType]
	r.mu.RUnlock()
	if !ok {
		metrics.IDAllocationErrors.WithLabelValues("unknown_entity_type").Inc()
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return r.next(g)
}

func (r *IdentifierRegistry) next(g *Generator) (string, error) {
	id, err := g.Next()
	if err != nil {
		metrics.IDAllocationErrors.WithLabelValues("exhausted").Inc()
		r.logger.Errorw("Identifier generator exhausted", "prefix", g.prefix, "entity_type", g.entityType)
		return "", fmt.Errorf("prefix %q: %w", g.prefix, err)
	}
	metrics.IDsAllocated.WithLabelValues(g.entityType).Inc()
	return id, nil
}

// Last returns the last identifier issued under prefix without advancing it.
func (r *IdentifierRegistry) Last(prefix string) (string, error) {
	r.mu.RLock()
	g, ok := r.byPrefix[prefix]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrefix, prefix)
	}
	return g.Last(), nil
}

// PrefixFor returns the prefix bound to entityType
func (r *IdentifierRegistry) PrefixFor(entityType string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byEntityType[entityType]
	if !ok {
		return "", false
	}
	return g.prefix, true
}

// Entries returns a snapshot of all registrations sorted by prefix.
func (r *IdentifierRegistry) Entries() []IdentifierEntry {
	r.mu.RLock()
	entries := make([]IdentifierEntry, 0, len(r.byPrefix))
	for prefix, g := range r.byPrefix {
		entries = append(entries, IdentifierEntry{
			Prefix:     prefix,
			EntityType: g.entityType,
			Last:       g.Last(),
			Issued:     g.Issued(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Prefix < entries[j].Prefix })
	return entries
}
