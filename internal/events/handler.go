package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// TaskRunner claims and executes a single ledger record.
type TaskRunner interface {
	RunNow(ctx context.Context, kind task.Kind, id uuid.UUID) error
}

// DispatchHandler starts immediate tasks as soon as they are created,
// instead of leaving them to wait for the next poll tick. Execution happens
// on a background goroutine so the emitting request returns right away.
type DispatchHandler struct {
	runner TaskRunner
	logger *slog.Logger
}

// NewDispatchHandler creates a DispatchHandler.
func NewDispatchHandler(runner TaskRunner, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		runner: runner,
		logger: logger.With("component", "dispatch_handler"),
	}
}

// HandleEvent implements EventHandler.
func (h *DispatchHandler) HandleEvent(_ context.Context, event *TaskCreatedEvent) error {
	if !event.Immediate {
		return nil
	}

	// Detached from the request context: the task outlives the HTTP
	// request that created it.
	go func() {
		err := h.runner.RunNow(context.Background(), event.Kind, event.TaskID)
		if err == nil {
			return
		}
		if errors.Is(err, task.ErrTaskConflict) {
			// The poll loop or another dispatch got there first.
			h.logger.Debug("task already claimed",
				"kind", event.Kind,
				"task_id", event.TaskID)
			return
		}
		h.logger.Error("immediate task dispatch failed",
			"kind", event.Kind,
			"task_id", event.TaskID,
			"error", err)
	}()
	return nil
}

var _ EventHandler = (*DispatchHandler)(nil)
