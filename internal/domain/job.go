package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job represents an open position candidates are matched against.
type Job struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Tags        []Tag     `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewJob creates a Job with a fresh ID and timestamps.
// Returns an error if validation fails.
func NewJob(title, description string) (*Job, error) {
	now := time.Now().UTC()
	j := &Job{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := j.Validate(); err != nil {
		return nil, err
	}

	return j, nil
}

// Validate checks that the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}
	if j.Title == "" {
		return ErrEmptyJobTitle
	}
	return nil
}
