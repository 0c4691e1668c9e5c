package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process EntityStore for tests and single-node use
type MemoryStore struct {
	mu          sync.RWMutex
	entities    map[string]*Entity
	transitions map[string][]TransitionRecord
	closed      bool
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:    make(map[string]*Entity),
		transitions: make(map[string][]TransitionRecord),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrDatabaseClosed
	}
	e, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Insert(ctx context.Context, e *Entity) error {
	if err := e.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDatabaseClosed
	}
	if _, exists := m.entities[e.ID]; exists {
		return fmt.Errorf("%w: %s", ErrEntityExists, e.ID)
	}

	now := m.now()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	m.entities[e.ID] = e.Clone()
	return nil
}

func (m *MemoryStore) UpdateState(ctx context.Context, id string, expectedVersion int64, state string) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDatabaseClosed
	}
	e, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if e.Version != expectedVersion {
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, id, e.Version, expectedVersion)
	}
	e.State = state
	e.Version++
	e.UpdatedAt = m.now()
	return e.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context, entityType string) ([]*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrDatabaseClosed
	}
	var result []*Entity
	for _, e := range m.entities {
		if e.Type == entityType {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) AppendTransition(ctx context.Context, rec TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDatabaseClosed
	}
	if _, ok := m.entities[rec.EntityID]; !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, rec.EntityID)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = m.now()
	}
	m.transitions[rec.EntityID] = append(m.transitions[rec.EntityID], rec)
	return nil
}

func (m *MemoryStore) Transitions(ctx context.Context, entityID string) ([]TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrDatabaseClosed
	}
	recs := m.transitions[entityID]
	result := make([]TransitionRecord, len(recs))
	copy(result, recs)
	return result, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
