package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
	"github.com/sjtutim/hrdb-sub001/internal/store"
)

// MatchResultStore implements store.MatchResultStore using PostgreSQL.
type MatchResultStore struct {
	db *sql.DB
}

// NewMatchResultStore creates a new PostgreSQL match result store.
func NewMatchResultStore(db *sql.DB) *MatchResultStore {
	return &MatchResultStore{db: db}
}

// Upsert stores the result for its (candidate, job) pair. The table carries
// a unique constraint on the pair, so a rerun overwrites the prior result in
// place rather than appending.
func (s *MatchResultStore) Upsert(ctx context.Context, result *domain.MatchResult) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	summary, err := json.Marshal(result.TagSummary)
	if err != nil {
		return fmt.Errorf("failed to marshal tag summary: %w", err)
	}

	query := `
		INSERT INTO match_results (id, candidate_id, job_id, score, evaluation, fallback, tag_summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (candidate_id, job_id) DO UPDATE
		SET score = EXCLUDED.score,
		    evaluation = EXCLUDED.evaluation,
		    fallback = EXCLUDED.fallback,
		    tag_summary = EXCLUDED.tag_summary,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		result.ID,
		result.CandidateID,
		result.JobID,
		result.Score,
		result.Evaluation,
		result.Fallback,
		summary,
		result.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert match result: %w", err)
	}
	return nil
}

// MaxScoreForCandidate returns the maximum authoritative score across all of
// the candidate's match results. ok is false when none exist.
func (s *MatchResultStore) MaxScoreForCandidate(ctx context.Context, candidateID uuid.UUID) (int, bool, error) {
	query := `SELECT MAX(score) FROM match_results WHERE candidate_id = $1`

	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, candidateID).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("failed to query max match score: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

var _ store.MatchResultStore = (*MatchResultStore)(nil)
