package storage

import "errors"

// Storage error constants
var (
	// ErrEntityNotFound is returned when an entity is not found
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityExists is returned when inserting an entity whose ID is taken
	ErrEntityExists = errors.New("entity already exists")

	// ErrVersionConflict is returned when an update's expected version is stale
	ErrVersionConflict = errors.New("entity version conflict")

	// ErrInvalidEntity is returned when an entity is missing required fields
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")
)
