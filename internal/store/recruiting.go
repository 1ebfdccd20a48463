package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
)

// CandidateStore persists candidates produced by resume parsing and their
// derived total score.
type CandidateStore interface {
	// Create saves a new candidate. Returns ErrEmailExists if a candidate
	// with the same email is already on file.
	Create(ctx context.Context, candidate *domain.Candidate) error

	// GetByID retrieves a candidate by its unique ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Candidate, error)

	// GetByEmail retrieves a candidate by email, used for duplicate
	// detection before persisting a parsed resume.
	GetByEmail(ctx context.Context, email string) (*domain.Candidate, error)

	// ListIDs returns the IDs of all candidates on file, used to resolve a
	// match request that names no explicit candidate set.
	ListIDs(ctx context.Context) ([]uuid.UUID, error)

	// UpdateTotalScore persists the candidate's derived aggregate score.
	UpdateTotalScore(ctx context.Context, id uuid.UUID, score int) error
}

// JobStore provides read access to jobs for the match queue.
type JobStore interface {
	// GetByID retrieves a job by its unique ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// MatchResultStore persists per-pair evaluation results.
type MatchResultStore interface {
	// Upsert stores the result for its (candidate, job) pair, overwriting
	// any prior result for the same pair.
	Upsert(ctx context.Context, result *domain.MatchResult) error

	// MaxScoreForCandidate returns the maximum authoritative score across
	// all of the candidate's match results. ok is false when the candidate
	// has no results.
	MaxScoreForCandidate(ctx context.Context, candidateID uuid.UUID) (score int, ok bool, err error)
}
