// Package gemini implements the LLM collaborator interfaces using Google's
// Gemini API: match scoring, resume analysis and text drafting.
package gemini

import "errors"

// Errors returned by Gemini API calls. Callers treat ErrTransientFailure as
// retryable at the task level; the other errors are permanent for the input
// that produced them.
var (
	// ErrInvalidConfig indicates the client configuration is unusable.
	ErrInvalidConfig = errors.New("invalid LLM configuration")

	// ErrEmptyInput indicates the prompt input was empty.
	ErrEmptyInput = errors.New("input text cannot be empty")

	// ErrContentBlocked indicates the API refused the content on safety
	// grounds.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrInvalidResponse indicates the API returned a response that could
	// not be interpreted.
	ErrInvalidResponse = errors.New("invalid response from LLM")

	// ErrTransientFailure indicates a failure that may succeed on retry.
	ErrTransientFailure = errors.New("transient LLM failure")
)
