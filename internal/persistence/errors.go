package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a CHECK or foreign key constraint fails.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrConflict is returned when a conditional update matched no rows.
	ErrConflict = errors.New("persistence: conflicting update")
)
