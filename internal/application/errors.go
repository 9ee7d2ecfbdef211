package application

import (
	"errors"

	"github.com/example/peer-scheduler/internal/persistence"
)

var (
	// ErrUnauthorized is returned when the acting principal may not touch the resource.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a resource with the same identity exists.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrConflict is returned when the resource changed state underneath the caller.
	ErrConflict = errors.New("application: conflict")
	// ErrSessionClosed is returned for card and chat actions on a completed session.
	ErrSessionClosed = errors.New("application: session closed")
	// ErrAlreadyAnswered is returned when a participant answers a card twice.
	ErrAlreadyAnswered = errors.New("application: card already answered")
	// ErrEntryExpired is returned when a waiting lobby entry's lease lapsed.
	ErrEntryExpired = errors.New("application: lobby entry expired")
	// ErrRateLimited is returned when a caller exceeds its request budget.
	ErrRateLimited = errors.New("application: rate limited")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func fieldError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// mapRepoError converts persistence sentinels into application errors.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrConflict):
		return ErrConflict
	case errors.Is(err, persistence.ErrConstraintViolation):
		return fieldError("request", "violates a data constraint")
	}
	return err
}
