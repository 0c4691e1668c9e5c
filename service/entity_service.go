package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"entitycore/core"
	"entitycore/storage"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRequest is returned when a request fails validation
	ErrInvalidRequest = errors.New("invalid request")

	// ErrEntityTypeMismatch is returned when an ID belongs to a different entity type
	ErrEntityTypeMismatch = errors.New("entity type mismatch")

	// ErrEntityTypeNotBound is returned for entity types without a lifecycle binding
	ErrEntityTypeNotBound = errors.New("entity type has no lifecycle")
)

// IdentifierAllocator hands out the next ID for an entity type.
// Defined here (consumer package), implemented by core.IdentifierRegistry.
type IdentifierAllocator interface {
	NextByEntityType(entityType string) (string, error)
}

// TransitionApplier resolves lifecycle transitions, implemented by core.TransitionEngine
type TransitionApplier interface {
	Apply(key string, from core.State, action core.Action) (core.State, error)
	CanApply(key string, from core.State, action core.Action) (bool, error)
	Describe(key string) (core.MachineDefinition, error)
}

// CacheInvalidator is implemented by core.InvalidationRegistry
type CacheInvalidator interface {
	RegisterTrigger(entityType, triggerName string)
	Flush(entityType string)
}

// EntityStorage defines the persistence operations the service needs
type EntityStorage interface {
	Get(ctx context.Context, id string) (*storage.Entity, error)
	Insert(ctx context.Context, e *storage.Entity) error
	UpdateState(ctx context.Context, id string, expectedVersion int64, state string) (*storage.Entity, error)
	List(ctx context.Context, entityType string) ([]*storage.Entity, error)
	AppendTransition(ctx context.Context, rec storage.TransitionRecord) error
	Transitions(ctx context.Context, entityID string) ([]storage.TransitionRecord, error)
}

// CreateEntityRequest is the input to Create
type CreateEntityRequest struct {
	Type       string            `json:"type" validate:"required,max=64"`
	Attributes map[string]string `json:"attributes" validate:"max=64,dive,keys,required,max=64,endkeys,max=1024"`
}

// TransitionRequest is the input to Transition
type TransitionRequest struct {
	Type   string `json:"type" validate:"required,max=64"`
	ID     string `json:"id" validate:"required,max=128"`
	Action string `json:"action" validate:"required,max=64"`
}

// TransitionResult reports what a Transition call did
type TransitionResult struct {
	Entity  *storage.Entity `json:"entity"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Applied bool            `json:"applied"` // false when the action was a no-op
}

// GetTrigger names the cached single-entity query for entityType
func GetTrigger(entityType string) string { return "get" + entityType }

// ListTrigger names the cached list query for entityType
func ListTrigger(entityType string) string { return "list" + entityType }

const listCacheKey = "all"

// EntityServiceImpl is the write path for lifecycle-managed entities.
// Every successful write allocates or transitions through the core
// registries and then flushes the entity type's cached queries.
type EntityServiceImpl struct {
	ids          IdentifierAllocator
	engine       TransitionApplier
	invalidation CacheInvalidator
	store        EntityStorage
	cache        core.QueryCache
	cacheTTL     time.Duration
	validate     *validator.Validate
	logger       *zap.SugaredLogger

	mu       sync.RWMutex
	machines map[string]string // entity type -> machine key
}

// NewEntityService creates a new EntityService instance.
//
// ids, engine, invalidation, store and logger are required and the
// constructor panics if any is nil. A nil cache disables read caching.
func NewEntityService(
	ids IdentifierAllocator,
	engine TransitionApplier,
	invalidation CacheInvalidator,
	store EntityStorage,
	cache core.QueryCache,
	cacheTTL time.Duration,
	logger *zap.SugaredLogger,
) *EntityServiceImpl {
	if ids == nil {
		panic("ids is required")
	}
	if engine == nil {
		panic("engine is required")
	}
	if invalidation == nil {
		panic("invalidation is required")
	}
	if store == nil {
		panic("store is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cache == nil {
		cache = core.NoopCache{}
	}

	return &EntityServiceImpl{
		ids:          ids,
		engine:       engine,
		invalidation: invalidation,
		store:        store,
		cache:        cache,
		cacheTTL:     cacheTTL,
		validate:     validator.New(),
		logger:       logger,
		machines:     make(map[string]string),
	}
}

// BindEntityType ties entityType to the lifecycle machine machineKey and
// registers the read-path cache triggers for it.
func (s *EntityServiceImpl) BindEntityType(entityType, machineKey string) error {
	if entityType == "" || machineKey == "" {
		return fmt.Errorf("%w: entity type and machine key are required", ErrInvalidRequest)
	}
	if _, err := s.engine.Describe(machineKey); err != nil {
		return fmt.Errorf("failed to bind %s: %w", entityType, err)
	}

	s.mu.Lock()
	if existing, ok := s.machines[entityType]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already bound to machine %s", core.ErrDuplicateRegistration, entityType, existing)
	}
	s.machines[entityType] = machineKey
	s.mu.Unlock()

	s.invalidation.RegisterTrigger(entityType, GetTrigger(entityType))
	s.invalidation.RegisterTrigger(entityType, ListTrigger(entityType))
	s.logger.Debugw("Entity type bound", "entity_type", entityType, "machine", machineKey)
	return nil
}

// EntityTypes returns every bound entity type, sorted
func (s *EntityServiceImpl) EntityTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.machines))
	for t := range s.machines {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (s *EntityServiceImpl) machineFor(entityType string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.machines[entityType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrEntityTypeNotBound, entityType)
	}
	return key, nil
}

// Create allocates an ID, stores a new entity in its machine's default
// state and flushes the entity type's cached queries. Nothing is stored or
// flushed when allocation fails.
func (s *EntityServiceImpl) Create(ctx context.Context, req CreateEntityRequest) (*storage.Entity, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	machineKey, err := s.machineFor(req.Type)
	if err != nil {
		return nil, err
	}
	def, err := s.engine.Describe(machineKey)
	if err != nil {
		return nil, err
	}

	id, err := s.ids.NextByEntityType(req.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %s identifier: %w", req.Type, err)
	}

	entity := &storage.Entity{
		ID:         id,
		Type:       req.Type,
		State:      def.DefaultState.String(),
		Attributes: req.Attributes,
	}
	if err := s.store.Insert(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", id, err)
	}

	s.invalidation.Flush(req.Type)
	s.logger.Infow("Entity created", "entity_type", req.Type, "id", id, "state", entity.State)
	return entity, nil
}

// Transition applies action to the entity's current state. A permissive
// no-op leaves the entity untouched and skips the flush, while a declared
// self-loop is persisted and recorded like any other edge; illegal actions
// under a strict engine return *core.IllegalTransitionError.
func (s *EntityServiceImpl) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	machineKey, err := s.machineFor(req.Type)
	if err != nil {
		return nil, err
	}

	entity, err := s.store.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if entity.Type != req.Type {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrEntityTypeMismatch, req.ID, entity.Type, req.Type)
	}

	from := core.State(entity.State)
	to, err := s.engine.Apply(machineKey, from, core.Action(req.Action))
	if err != nil {
		return nil, err
	}
	if to == from {
		// a declared self-loop is a real transition
		matched, err := s.engine.CanApply(machineKey, from, core.Action(req.Action))
		if err != nil {
			return nil, err
		}
		if !matched {
			return &TransitionResult{Entity: entity, From: from.String(), To: to.String()}, nil
		}
	}

	updated, err := s.store.UpdateState(ctx, entity.ID, entity.Version, to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to persist transition of %s: %w", entity.ID, err)
	}

	if err := s.store.AppendTransition(ctx, storage.TransitionRecord{
		EntityID:   entity.ID,
		EntityType: entity.Type,
		Machine:    machineKey,
		Action:     req.Action,
		From:       from.String(),
		To:         to.String(),
	}); err != nil {
		s.logger.Errorw("Failed to record transition history",
			"entity_type", entity.Type,
			"id", entity.ID,
			"action", req.Action,
			"error", err)
	}

	s.invalidation.Flush(entity.Type)
	s.logger.Infow("Entity transitioned",
		"entity_type", entity.Type,
		"id", entity.ID,
		"action", req.Action,
		"from", from,
		"to", to)

	return &TransitionResult{Entity: updated, From: from.String(), To: to.String(), Applied: true}, nil
}

// Get returns one entity, served from the query cache when possible
func (s *EntityServiceImpl) Get(ctx context.Context, entityType, id string) (*storage.Entity, error) {
	if _, err := s.machineFor(entityType); err != nil {
		return nil, err
	}

	trigger := GetTrigger(entityType)
	var cached storage.Entity
	if found, err := s.cache.Get(ctx, trigger, id, &cached); err != nil {
		s.logger.Warnw("Cache read failed", "trigger", trigger, "key", id, "error", err)
	} else if found {
		return &cached, nil
	}

	entity, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.Type != entityType {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrEntityTypeMismatch, id, entity.Type, entityType)
	}

	if err := s.cache.Set(ctx, trigger, id, entity, s.cacheTTL); err != nil {
		s.logger.Warnw("Cache write failed", "trigger", trigger, "key", id, "error", err)
	}
	return entity, nil
}

// List returns every entity of entityType, served from the query cache when possible
func (s *EntityServiceImpl) List(ctx context.Context, entityType string) ([]*storage.Entity, error) {
	if _, err := s.machineFor(entityType); err != nil {
		return nil, err
	}

	trigger := ListTrigger(entityType)
	var cached []*storage.Entity
	if found, err := s.cache.Get(ctx, trigger, listCacheKey, &cached); err != nil {
		s.logger.Warnw("Cache read failed", "trigger", trigger, "error", err)
	} else if found {
		return cached, nil
	}

	entities, err := s.store.List(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, trigger, listCacheKey, entities, s.cacheTTL); err != nil {
		s.logger.Warnw("Cache write failed", "trigger", trigger, "error", err)
	}
	return entities, nil
}

// History returns the transition audit trail of one entity
func (s *EntityServiceImpl) History(ctx context.Context, id string) ([]storage.TransitionRecord, error) {
	return s.store.Transitions(ctx, id)
}
