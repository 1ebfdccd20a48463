package domain

import (
	"time"

	"github.com/google/uuid"
)

// TagSummary is the coarse tag-overlap breakdown for one (candidate, job)
// pair. It exists for UI display only; the authoritative score is produced
// by the LLM (or the fallback) and stored on the MatchResult itself.
type TagSummary struct {
	Matched     []string `json:"matched"`
	Missing     []string `json:"missing"`
	Similar     []string `json:"similar"`
	Extra       []string `json:"extra"`
	CoarseScore int      `json:"coarse_score"`
}

// MatchResult is the evaluation of one candidate against one job. Results
// are upserted, not appended: re-running a match for the same pair
// overwrites its prior result.
type MatchResult struct {
	ID          uuid.UUID  `json:"id"`
	CandidateID uuid.UUID  `json:"candidate_id"`
	JobID       uuid.UUID  `json:"job_id"`
	Score       int        `json:"score"`
	Evaluation  string     `json:"evaluation"`
	Fallback    bool       `json:"fallback"`
	TagSummary  TagSummary `json:"tag_summary"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewMatchResult creates a MatchResult for the given pair.
// Returns an error if validation fails.
func NewMatchResult(candidateID, jobID uuid.UUID, score int, evaluation string) (*MatchResult, error) {
	now := time.Now().UTC()
	r := &MatchResult{
		ID:          uuid.New(),
		CandidateID: candidateID,
		JobID:       jobID,
		Score:       score,
		Evaluation:  evaluation,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// Validate checks that the MatchResult has valid data.
func (r *MatchResult) Validate() error {
	if r.CandidateID == uuid.Nil {
		return ErrEmptyCandidateID
	}
	if r.JobID == uuid.Nil {
		return ErrEmptyJobID
	}
	if r.Score < 0 || r.Score > 100 {
		return ErrInvalidScore
	}
	return nil
}
