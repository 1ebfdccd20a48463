// Package api implements the HTTP interface: task enqueue and lifecycle
// endpoints, progress queries and the SSE streaming runner.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sjtutim/hrdb-sub001/internal/generation"
	"github.com/sjtutim/hrdb-sub001/internal/service"
	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrCandidateNotFound),
		errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, task.ErrTaskConflict),
		errors.Is(err, task.ErrTaskRunning),
		errors.Is(err, service.ErrDuplicateTask),
		errors.Is(err, store.ErrEmailExists),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, service.ErrNoFiles),
		errors.Is(err, service.ErrEmptyCandidateSet),
		errors.Is(err, generation.ErrUnknownTemplate),
		errors.Is(err, generation.ErrMissingInput),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly message for the
// error.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrCandidateNotFound):
		return "Candidate not found"
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, task.ErrTaskConflict):
		return "Task is not in a state that allows this operation"
	case errors.Is(err, task.ErrTaskRunning):
		return "Task is currently running"
	case errors.Is(err, service.ErrDuplicateTask):
		return "An active task already exists for this target"
	case errors.Is(err, store.ErrEmailExists):
		return "A candidate with this email already exists"

	case errors.Is(err, service.ErrNoFiles):
		return "No files to parse"
	case errors.Is(err, service.ErrEmptyCandidateSet):
		return "Candidate list cannot be empty"
	case errors.Is(err, generation.ErrUnknownTemplate):
		return "Unknown generation template"
	case errors.Is(err, generation.ErrMissingInput):
		return "Missing required template input"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError converts validator errors into user-friendly
// messages without exposing struct internals.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "uuid":
		return "invalid identifier"
	default:
		return "validation failed"
	}
}
