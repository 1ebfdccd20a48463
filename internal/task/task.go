// Package task implements the durable background task subsystem: the task
// record state machine, the per-kind poll schedulers, the bounded batch
// executor and the ephemeral progress store.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the three independent task queues.
type Kind string

// The task queue kinds.
const (
	KindParse      Kind = "parse"
	KindMatch      Kind = "match"
	KindGeneration Kind = "generation"
)

// Kinds lists every queue kind, in a stable order.
func Kinds() []Kind {
	return []Kind{KindParse, KindMatch, KindGeneration}
}

// Status represents the current state of a task record.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// CanTransitionTo reports whether the status machine permits moving from s
// to next. RUNNING→PENDING is only legal as a stuck-task recovery action;
// it is included here because recovery is the one path that performs it,
// and the ledger exposes no other way to write that transition.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusPending
	default:
		// Terminal states never transition.
		return false
	}
}

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Common errors returned by ledger operations.
var (
	// ErrTaskConflict indicates a conditional status transition found the
	// record in an unexpected state, e.g. a claim raced with another
	// scheduler or a run-now request hit a non-pending task.
	ErrTaskConflict = errors.New("task is not in the required status")

	// ErrTaskRunning indicates an operation that is forbidden while the
	// record is running, such as deletion.
	ErrTaskRunning = errors.New("task is currently running")
)

// Record is one durable unit of background work. All three queue kinds
// share this structure; payloads are kind-specific JSON.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	Kind         Kind            `json:"kind"`
	Status       Status          `json:"status"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Result       json.RawMessage `json:"result,omitempty"`
	Total        int             `json:"total"`
	Processed    int             `json:"processed"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewRecord creates a pending Record for the given kind. scheduledFor may
// be nil, meaning the record is eligible immediately.
func NewRecord(kind Kind, payload json.RawMessage, scheduledFor *time.Time) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:           uuid.New(),
		Kind:         kind,
		Status:       StatusPending,
		ScheduledFor: scheduledFor,
		Payload:      payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Ledger is the durable task store for one queue kind. It is the single
// source of truth for task state; every mutation is a single-record
// read-modify-write scoped by id, except CreateBatch which atomically
// creates a set.
type Ledger interface {
	// Create persists a new pending record.
	Create(ctx context.Context, rec *Record) error

	// CreateBatch persists a set of pending records atomically: either all
	// are created or none are.
	CreateBatch(ctx context.Context, recs []*Record) error

	// GetByID retrieves a record. Returns store.ErrTaskNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// ClaimDue returns pending records whose scheduled_for is unset or at
	// or before now, ordered oldest first.
	ClaimDue(ctx context.Context, now time.Time) ([]*Record, error)

	// MarkRunning transitions PENDING→RUNNING atomically: the update only
	// applies if the record is still pending, closing the race where two
	// schedulers claim the same due task. Returns ErrTaskConflict if the
	// record was not pending.
	MarkRunning(ctx context.Context, id uuid.UUID) error

	// MarkCompleted transitions RUNNING→COMPLETED and stores the result.
	MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	// MarkFailed transitions RUNNING→FAILED and stores the error message.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	// Cancel transitions PENDING→CANCELLED. Returns ErrTaskConflict if the
	// record was not pending.
	Cancel(ctx context.Context, id uuid.UUID) error

	// Delete removes a record. Returns ErrTaskRunning while the record is
	// running.
	Delete(ctx context.Context, id uuid.UUID) error

	// UpdateProgress stores the item-granularity counters for a running
	// multi-item task and refreshes updated_at, keeping the record fresh
	// for the staleness sweep.
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error

	// ResetStuckToPending requeues RUNNING records whose updated_at is
	// older than the threshold, clearing their error. Returns the number
	// of records changed.
	ResetStuckToPending(ctx context.Context, olderThan time.Duration) (int64, error)

	// ResetStuckToFailed fails RUNNING records whose updated_at is older
	// than the threshold, storing reason. Returns the number of records
	// changed.
	ResetStuckToFailed(ctx context.Context, olderThan time.Duration, reason string) (int64, error)

	// ActiveExistsForTarget reports whether a pending or running record
	// already targets the given logical key (job id for match, file ref
	// for parse). Used for duplicate-record avoidance before creation.
	ActiveExistsForTarget(ctx context.Context, target string) (bool, error)
}

// Executor runs the kind-specific routine for one claimed record. The
// record is already RUNNING when Execute is called. A nil error means the
// task completed and result is stored on the record; a non-nil error marks
// it FAILED with a safe message.
type Executor interface {
	Execute(ctx context.Context, rec *Record) (result json.RawMessage, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, rec *Record) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, rec *Record) (json.RawMessage, error) {
	return f(ctx, rec)
}
