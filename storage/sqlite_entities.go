package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const entityColumns = "id, type, state, attributes, version, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		e     Entity
		attrs sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Type, &e.State, &attrs, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &e.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func encodeAttributes(attrs map[string]string) (sql.NullString, error) {
	if len(attrs) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode attributes: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Get returns the entity with the given id
func (s *SQLite) Get(ctx context.Context, id string) (*Entity, error) {
	row := s.ReadDB.QueryRowContext(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	return e, nil
}

// Insert stores a new entity with Version 1
func (s *SQLite) Insert(ctx context.Context, e *Entity) error {
	if err := e.validate(); err != nil {
		return err
	}
	attrs, err := encodeAttributes(e.Attributes)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.WriteDB.ExecContext(ctx, `
		INSERT INTO entities (id, type, state, attributes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, e.ID, e.Type, e.State, attrs, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrEntityExists, e.ID)
		}
		return fmt.Errorf("failed to insert entity %s: %w", e.ID, err)
	}

	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// UpdateState performs a compare-and-set on the entity version
func (s *SQLite) UpdateState(ctx context.Context, id string, expectedVersion int64, state string) (*Entity, error) {
	var updated *Entity
	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE entities SET state = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, state, time.Now().UTC(), id, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update entity %s: %w", id, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}

		row := tx.QueryRowContext(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
		current, err := scanEntity(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to reload entity %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, id, current.Version, expectedVersion)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns every entity of entityType ordered by ID
func (s *SQLite) List(ctx context.Context, entityType string) ([]*Entity, error) {
	rows, err := s.ReadDB.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE type = ? ORDER BY id ASC", entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities: %w", entityType, err)
	}
	defer rows.Close()

	var result []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// AppendTransition records one applied transition
func (s *SQLite) AppendTransition(ctx context.Context, rec TransitionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	_, err := s.WriteDB.ExecContext(ctx, `
		INSERT INTO entity_transitions (id, entity_id, entity_type, machine, action, from_state, to_state, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.EntityID, rec.EntityType, rec.Machine, rec.Action, rec.From, rec.To, rec.At)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, rec.EntityID)
		}
		return fmt.Errorf("failed to record transition for %s: %w", rec.EntityID, err)
	}
	return nil
}

// Transitions returns the history of one entity, oldest first
func (s *SQLite) Transitions(ctx context.Context, entityID string) ([]TransitionRecord, error) {
	rows, err := s.ReadDB.QueryContext(ctx, `
		SELECT id, entity_id, entity_type, machine, action, from_state, to_state, at
		FROM entity_transitions WHERE entity_id = ? ORDER BY seq ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions for %s: %w", entityID, err)
	}
	defer rows.Close()

	result := []TransitionRecord{}
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.EntityType, &rec.Machine,
			&rec.Action, &rec.From, &rec.To, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
