package domain

import "errors"

// Common validation errors shared by the domain entities.
var (
	ErrEmptyCandidateID    = errors.New("candidate ID cannot be empty")
	ErrEmptyCandidateName  = errors.New("candidate name cannot be empty")
	ErrEmptyCandidateEmail = errors.New("candidate email cannot be empty")
	ErrEmptyJobID          = errors.New("job ID cannot be empty")
	ErrEmptyJobTitle       = errors.New("job title cannot be empty")
	ErrInvalidScore        = errors.New("score must be between 0 and 100")
)
