package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
	"github.com/sjtutim/hrdb-sub001/internal/store"
)

// JobStore implements store.JobStore using PostgreSQL.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new PostgreSQL job store.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// GetByID retrieves a job by its unique ID.
func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `
		SELECT id, title, description, tags, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	var (
		j    domain.Job
		tags []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&j.ID,
		&j.Title,
		&j.Description,
		&tags,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &j.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job tags: %w", err)
		}
	}
	return &j, nil
}

var _ store.JobStore = (*JobStore)(nil)
