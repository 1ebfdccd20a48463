package domain

import (
	"time"

	"github.com/google/uuid"
)

// Candidate represents a person extracted from a parsed resume. TotalScore
// is a derived aggregate: the maximum authoritative score across all of the
// candidate's match results, never an average, so additional weak matches
// cannot lower a candidate's visible ranking.
type Candidate struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Tags       []Tag     `json:"tags"`
	TotalScore int       `json:"total_score"`
	ResumeRef  string    `json:"resume_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewCandidate creates a Candidate with a fresh ID and timestamps.
// Returns an error if validation fails.
func NewCandidate(name, email string) (*Candidate, error) {
	now := time.Now().UTC()
	c := &Candidate{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks that the Candidate has valid data.
func (c *Candidate) Validate() error {
	if c.ID == uuid.Nil {
		return ErrEmptyCandidateID
	}
	if c.Name == "" {
		return ErrEmptyCandidateName
	}
	if c.Email == "" {
		return ErrEmptyCandidateEmail
	}
	return nil
}
