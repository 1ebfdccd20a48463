package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/api/shared"
	"github.com/sjtutim/hrdb-sub001/internal/parsing"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// SSE event names emitted by the streaming runner. Every stream ends with
// exactly one terminal event: done or error.
const (
	eventProgress = "progress"
	eventDone     = "done"
	eventError    = "error"
)

// streamProgress is the data payload of a progress event.
type streamProgress struct {
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
}

// StreamReporter writes server-sent events to an HTTP response, flushing
// after each event. Once a terminal event has been sent, further writes are
// no-ops.
type StreamReporter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu       sync.Mutex
	terminal bool
}

// NewStreamReporter prepares w for an SSE stream. Returns an error if the
// writer cannot flush incrementally.
func NewStreamReporter(w http.ResponseWriter) (*StreamReporter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	return &StreamReporter{w: w, flusher: flusher}, nil
}

// Progress emits a progress event. Safe to call from the executor's
// reporter callback.
func (s *StreamReporter) Progress(phase string, percent int) {
	s.send(eventProgress, streamProgress{Phase: phase, Percent: percent}, false)
}

// Done emits the terminal done event carrying the task result.
func (s *StreamReporter) Done(result json.RawMessage) {
	payload := result
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	s.send(eventDone, payload, true)
}

// Error emits the terminal error event with a safe message.
func (s *StreamReporter) Error(message string) {
	s.send(eventError, map[string]string{"message": message}, true)
}

func (s *StreamReporter) send(event string, data any, terminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	if terminal {
		s.terminal = true
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, encoded)
	s.flusher.Flush()
}

// streamingExecutor is implemented by executors that can report
// phase-granularity progress mid-run.
type streamingExecutor interface {
	Run(ctx context.Context, rec *task.Record, report parsing.Reporter) (json.RawMessage, error)
}

// StreamTask handles GET /api/tasks/{kind}/{id}/stream: it claims the
// pending task and executes it within the request, streaming progress as
// server-sent events. The ledger stays authoritative; a dropped connection
// changes nothing about the task's durable outcome.
func (h *TaskHandler) StreamTask(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.parseKindAndID(w, r)
	if !ok {
		return
	}
	ledger, ok := h.supervisor.Ledger(kind)
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "Unknown task kind")
		return
	}
	executor, ok := h.executors[kind]
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "Unknown task kind")
		return
	}

	rec, err := ledger.GetByID(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// Claim before the first SSE byte so a conflict is still an ordinary
	// JSON error response.
	if err := ledger.MarkRunning(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	reporter, err := NewStreamReporter(w)
	if err != nil {
		h.markStreamFailed(ledger, id, "streaming unsupported")
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	result, execErr := h.runClaimed(r.Context(), executor, rec, reporter)

	// Terminal writes survive a dropped client connection.
	if execErr != nil {
		h.markStreamFailed(ledger, id, execErr.Error())
		reporter.Error(GetSafeStreamMessage(execErr))
		return
	}
	if err := ledger.MarkCompleted(context.Background(), id, result); err != nil {
		h.logger.Error("failed to record streamed task completion",
			"task_id", id,
			"error", err)
		reporter.Error("Task finished but its result could not be recorded")
		return
	}
	reporter.Done(result)
}

// runClaimed executes the record, catching panics at the task boundary.
func (h *TaskHandler) runClaimed(
	ctx context.Context,
	executor task.Executor,
	rec *task.Record,
	reporter *StreamReporter,
) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if streaming, ok := executor.(streamingExecutor); ok {
		return streaming.Run(ctx, rec, reporter.Progress)
	}

	reporter.Progress("running", 0)
	return executor.Execute(ctx, rec)
}

func (h *TaskHandler) markStreamFailed(ledger task.Ledger, id uuid.UUID, message string) {
	if err := ledger.MarkFailed(context.Background(), id, message); err != nil {
		h.logger.Error("failed to record streamed task failure",
			"task_id", id,
			"error", err)
	}
}

// GetSafeStreamMessage sanitizes an execution error for the SSE error
// event. Executor errors describe the task's own input, so they are safe to
// surface directly; anything unexpected degrades to a generic message.
func GetSafeStreamMessage(err error) string {
	if err == nil {
		return "Task failed"
	}
	return err.Error()
}
