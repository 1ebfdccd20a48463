// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/platform/logger"
	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// taskTables maps each queue kind to its table and the payload key that
// identifies the task's logical target (used for duplicate avoidance).
var taskTables = map[task.Kind]struct {
	table     string
	targetKey string
}{
	task.KindParse:      {table: "parse_tasks", targetKey: "file_ref"},
	task.KindMatch:      {table: "match_tasks", targetKey: "job_id"},
	task.KindGeneration: {table: "generation_tasks", targetKey: ""},
}

// TaskStore implements task.Ledger for one queue kind. The three kinds use
// structurally identical tables, so one implementation serves all of them,
// instantiated per kind.
type TaskStore struct {
	db        *sql.DB
	kind      task.Kind
	table     string
	targetKey string
}

// NewTaskStore creates the ledger store for the given kind.
func NewTaskStore(db *sql.DB, kind task.Kind) (*TaskStore, error) {
	meta, ok := taskTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
	return &TaskStore{db: db, kind: kind, table: meta.table, targetKey: meta.targetKey}, nil
}

// Create persists a new pending record.
func (s *TaskStore) Create(ctx context.Context, rec *task.Record) error {
	return s.insert(ctx, s.db, rec)
}

// CreateBatch persists a set of records in a single transaction: either all
// are created or none are.
func (s *TaskStore) CreateBatch(ctx context.Context, recs []*task.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		if err := s.insert(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task batch: %w", err)
	}
	return nil
}

func (s *TaskStore) insert(ctx context.Context, db store.DBTX, rec *task.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, status, scheduled_for, payload, total, processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.table)

	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, query,
		rec.ID,
		rec.Status,
		rec.ScheduledFor,
		[]byte(rec.Payload),
		rec.Total,
		rec.Processed,
		now,
		now,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to save task",
			"task_id", rec.ID,
			"kind", s.kind,
			"error", err)
		return fmt.Errorf("failed to save %s task: %w", s.kind, err)
	}
	return nil
}

// GetByID retrieves a record by id.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*task.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, status, scheduled_for, payload, result, total, processed, error_message, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, s.table)

	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s task: %w", s.kind, err)
	}
	return rec, nil
}

// ClaimDue returns pending records eligible at now, oldest first.
func (s *TaskStore) ClaimDue(ctx context.Context, now time.Time) ([]*task.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, status, scheduled_for, payload, result, total, processed, error_message, created_at, updated_at
		FROM %s
		WHERE status = $1 AND (scheduled_for IS NULL OR scheduled_for <= $2)
		ORDER BY created_at ASC
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query, task.StatusPending, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due %s tasks: %w", s.kind, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*task.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s task row: %w", s.kind, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s task rows: %w", s.kind, err)
	}
	return recs, nil
}

// MarkRunning performs the atomic conditional claim: the transition only
// applies while the record is still pending, so two schedulers (or a
// scheduler and a run-now request) cannot both win it.
func (s *TaskStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, error_message = '', updated_at = $2
		WHERE id = $3 AND status = $4
	`, s.table)

	return s.conditionalUpdate(ctx, id, query,
		task.StatusRunning, time.Now().UTC(), id, task.StatusPending)
}

// MarkCompleted stores the result and finishes the record.
func (s *TaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, result = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`, s.table)

	var res any
	if result != nil {
		res = []byte(result)
	}
	return s.conditionalUpdate(ctx, id, query,
		task.StatusCompleted, res, time.Now().UTC(), id, task.StatusRunning)
}

// MarkFailed stores the error message and finishes the record.
func (s *TaskStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`, s.table)

	return s.conditionalUpdate(ctx, id, query,
		task.StatusFailed, errorMessage, time.Now().UTC(), id, task.StatusRunning)
}

// Cancel flips a pending record to cancelled.
func (s *TaskStore) Cancel(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, s.table)

	return s.conditionalUpdate(ctx, id, query,
		task.StatusCancelled, time.Now().UTC(), id, task.StatusPending)
}

// Delete removes a record unless it is running.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status <> $2`, s.table)

	result, err := s.db.ExecContext(ctx, query, id, task.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to delete %s task: %w", s.kind, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a running record from a missing one.
		rec, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if rec.Status == task.StatusRunning {
			return task.ErrTaskRunning
		}
		return store.ErrTaskNotFound
	}
	return nil
}

// UpdateProgress refreshes the item counters and updated_at, keeping a
// long-running multi-item task out of the staleness sweep.
func (s *TaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET processed = $1, total = $2, updated_at = $3
		WHERE id = $4
	`, s.table)

	if _, err := s.db.ExecContext(ctx, query, processed, total, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update %s task progress: %w", s.kind, err)
	}
	return nil
}

// ResetStuckToPending requeues stale running records, clearing their error.
func (s *TaskStore) ResetStuckToPending(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, error_message = '', updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`, s.table)

	return s.sweep(ctx, query, task.StatusPending, olderThan)
}

// ResetStuckToFailed fails stale running records with an explanation.
func (s *TaskStore) ResetStuckToFailed(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, error_message = $2, updated_at = $3
		WHERE status = $4 AND updated_at < $5
	`, s.table)

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		task.StatusFailed, reason, now, task.StatusRunning, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stuck %s tasks: %w", s.kind, err)
	}
	return result.RowsAffected()
}

// ActiveExistsForTarget reports whether a pending or running record already
// targets the given logical key.
func (s *TaskStore) ActiveExistsForTarget(ctx context.Context, target string) (bool, error) {
	if s.targetKey == "" {
		return false, nil
	}

	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE status IN ($1, $2) AND payload->>'%s' = $3
		)
	`, s.table, s.targetKey)

	var exists bool
	err := s.db.QueryRowContext(ctx, query, task.StatusPending, task.StatusRunning, target).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active %s tasks: %w", s.kind, err)
	}
	return exists, nil
}

func (s *TaskStore) sweep(ctx context.Context, query string, to task.Status, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, to, now, task.StatusRunning, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck %s tasks: %w", s.kind, err)
	}
	return result.RowsAffected()
}

// conditionalUpdate runs a status transition that requires a specific prior
// status, translating "zero rows" into ErrTaskConflict (or not-found).
func (s *TaskStore) conditionalUpdate(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s task status: %w", s.kind, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return task.ErrTaskConflict
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *TaskStore) scanRecord(row rowScanner) (*task.Record, error) {
	var (
		rec          task.Record
		scheduledFor sql.NullTime
		payload      []byte
		result       []byte
		errorMessage sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.Status,
		&scheduledFor,
		&payload,
		&result,
		&rec.Total,
		&rec.Processed,
		&errorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = s.kind
	if scheduledFor.Valid {
		t := scheduledFor.Time
		rec.ScheduledFor = &t
	}
	rec.Payload = payload
	rec.Result = result
	rec.ErrorMessage = errorMessage.String
	return &rec, nil
}

// Compile-time interface check.
var _ task.Ledger = (*TaskStore)(nil)
