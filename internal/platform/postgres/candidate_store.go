package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
	"github.com/sjtutim/hrdb-sub001/internal/platform/logger"
	"github.com/sjtutim/hrdb-sub001/internal/store"
)

// CandidateStore implements store.CandidateStore using PostgreSQL.
type CandidateStore struct {
	db *sql.DB
}

// NewCandidateStore creates a new PostgreSQL candidate store.
func NewCandidateStore(db *sql.DB) *CandidateStore {
	return &CandidateStore{db: db}
}

// Create saves a new candidate. The email column carries a unique constraint;
// a violation maps to store.ErrEmailExists.
func (s *CandidateStore) Create(ctx context.Context, candidate *domain.Candidate) error {
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	tags, err := json.Marshal(candidate.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate tags: %w", err)
	}

	query := `
		INSERT INTO candidates (id, name, email, phone, summary, tags, total_score, resume_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		candidate.ID,
		candidate.Name,
		candidate.Email,
		candidate.Phone,
		candidate.Summary,
		tags,
		candidate.TotalScore,
		candidate.ResumeRef,
		candidate.CreatedAt,
		candidate.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", store.ErrEmailExists, err)
		}
		logger.FromContext(ctx).Error("failed to save candidate",
			"candidate_id", candidate.ID,
			"error", err)
		return fmt.Errorf("failed to save candidate: %w", err)
	}
	return nil
}

// GetByID retrieves a candidate by its unique ID.
func (s *CandidateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Candidate, error) {
	query := `
		SELECT id, name, email, phone, summary, tags, total_score, resume_ref, created_at, updated_at
		FROM candidates
		WHERE id = $1
	`
	return s.scanCandidate(s.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a candidate by email.
func (s *CandidateStore) GetByEmail(ctx context.Context, email string) (*domain.Candidate, error) {
	query := `
		SELECT id, name, email, phone, summary, tags, total_score, resume_ref, created_at, updated_at
		FROM candidates
		WHERE email = $1
	`
	return s.scanCandidate(s.db.QueryRowContext(ctx, query, email))
}

// ListIDs returns the IDs of all candidates on file, oldest first.
func (s *CandidateStore) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT id FROM candidates ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return ids, nil
}

// UpdateTotalScore persists the candidate's derived aggregate score.
func (s *CandidateStore) UpdateTotalScore(ctx context.Context, id uuid.UUID, score int) error {
	query := `
		UPDATE candidates
		SET total_score = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, score, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update candidate total score: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrCandidateNotFound
	}
	return nil
}

func (s *CandidateStore) scanCandidate(row *sql.Row) (*domain.Candidate, error) {
	var (
		c    domain.Candidate
		tags []byte
	)
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.Phone,
		&c.Summary,
		&tags,
		&c.TotalScore,
		&c.ResumeRef,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrCandidateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}

	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &c.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidate tags: %w", err)
		}
	}
	return &c, nil
}

var _ store.CandidateStore = (*CandidateStore)(nil)
