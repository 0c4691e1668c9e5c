package storage

import (
	"context"
	"time"
)

// Entity is a stored lifecycle-managed record
type Entity struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Version    int64             `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of e
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Attributes != nil {
		c.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

func (e *Entity) validate() error {
	if e == nil || e.ID == "" || e.Type == "" || e.State == "" {
		return ErrInvalidEntity
	}
	return nil
}

// TransitionRecord is the audit trail entry for one applied transition
type TransitionRecord struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	Machine    string    `json:"machine"`
	Action     string    `json:"action"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
}

// EntityStore persists entities and their transition history.
type EntityStore interface {
	Get(ctx context.Context, id string) (*Entity, error)
	// Insert stores a new entity with Version 1
	Insert(ctx context.Context, e *Entity) error
	// UpdateState sets the state and bumps the version when the stored
	// version equals expectedVersion; otherwise it returns ErrVersionConflict.
	UpdateState(ctx context.Context, id string, expectedVersion int64, state string) (*Entity, error)
	// List returns every entity of entityType ordered by ID
	List(ctx context.Context, entityType string) ([]*Entity, error)
	AppendTransition(ctx context.Context, rec TransitionRecord) error
	// Transitions returns the history of one entity, oldest first
	Transitions(ctx context.Context, entityID string) ([]TransitionRecord, error)
	Close() error
}

var (
	_ EntityStore = (*MemoryStore)(nil)
	_ EntityStore = (*SQLite)(nil)
)
