// Package events decouples task creation from task dispatch: the enqueue
// services publish task-created events, and a handler nudges the supervisor
// so immediate tasks start without waiting for the next poll tick.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// TaskCreatedEvent announces that a new task record exists in the ledger.
type TaskCreatedEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// Kind is the queue the task belongs to.
	Kind task.Kind `json:"kind"`

	// TaskID is the ledger record id.
	TaskID uuid.UUID `json:"task_id"`

	// Immediate indicates the task is due now rather than at a scheduled
	// cutoff. Handlers only dispatch immediate tasks; scheduled ones wait
	// for the poll loop.
	Immediate bool `json:"immediate"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskCreatedEvent creates a TaskCreatedEvent for the given record.
func NewTaskCreatedEvent(kind task.Kind, taskID uuid.UUID, immediate bool) *TaskCreatedEvent {
	return &TaskCreatedEvent{
		ID:        uuid.New(),
		Kind:      kind,
		TaskID:    taskID,
		Immediate: immediate,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler processes task-created events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskCreatedEvent) error
}

// EventEmitter publishes events without direct knowledge of handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskCreatedEvent) error
}
