package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// store. This is the generic form of the entity-specific errors below.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g. a candidate with the same email).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored.
	ErrInvalidEntity = errors.New("invalid entity")

	// Entity-specific "not found" errors.
	ErrTaskNotFound      = fmt.Errorf("%w: task", ErrNotFound)
	ErrCandidateNotFound = fmt.Errorf("%w: candidate", ErrNotFound)
	ErrJobNotFound       = fmt.Errorf("%w: job", ErrNotFound)

	// ErrEmailExists indicates a candidate with the given email is already
	// on file. Reported to callers as a validation failure, not an
	// infrastructure error.
	ErrEmailExists = fmt.Errorf("%w: email", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
