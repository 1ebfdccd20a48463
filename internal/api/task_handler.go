package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/api/shared"
	"github.com/sjtutim/hrdb-sub001/internal/service"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// ParseFileRequest describes one uploaded document in a parse request.
type ParseFileRequest struct {
	FileRef      string `json:"file_ref"      validate:"required"`
	ContentType  string `json:"content_type"`
	OriginalName string `json:"original_name"`
}

// EnqueueParseRequest is the request body for creating parse tasks.
type EnqueueParseRequest struct {
	Files     []ParseFileRequest `json:"files" validate:"required,min=1,dive"`
	Immediate bool               `json:"immediate"`
}

// EnqueueMatchRequest is the request body for creating a match task. An
// absent candidate set matches the job against every candidate on file.
type EnqueueMatchRequest struct {
	JobID        uuid.UUID   `json:"job_id"        validate:"required"`
	CandidateIDs []uuid.UUID `json:"candidate_ids"`
	Immediate    bool        `json:"immediate"`
}

// EnqueueGenerationRequest is the request body for creating a generation
// task.
type EnqueueGenerationRequest struct {
	Template string            `json:"template" validate:"required"`
	Inputs   map[string]string `json:"inputs"`
}

// CleanupRequest is the request body for the operator cleanup sweep.
type CleanupRequest struct {
	OlderThanMinutes int `json:"older_than_minutes" validate:"omitempty,gte=1"`
}

// TaskResponse is the task record as exposed over HTTP.
type TaskResponse struct {
	ID           uuid.UUID       `json:"id"`
	Kind         task.Kind       `json:"kind"`
	Status       task.Status     `json:"status"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	Total        int             `json:"total"`
	Processed    int             `json:"processed"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toTaskResponse(rec *task.Record) TaskResponse {
	return TaskResponse{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Status:       rec.Status,
		ScheduledFor: rec.ScheduledFor,
		Total:        rec.Total,
		Processed:    rec.Processed,
		Result:       rec.Result,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// TaskHandler serves the task lifecycle endpoints.
type TaskHandler struct {
	tasks                *service.TaskService
	supervisor           *task.Supervisor
	progress             *task.ProgressStore
	executors            map[task.Kind]task.Executor
	defaultCleanupWindow time.Duration
	validator            *validator.Validate
	logger               *slog.Logger
}

// NewTaskHandler creates a TaskHandler. executors powers the streaming
// endpoint, which runs the task inside the request instead of handing it to
// the scheduler.
func NewTaskHandler(
	tasks *service.TaskService,
	supervisor *task.Supervisor,
	progress *task.ProgressStore,
	executors map[task.Kind]task.Executor,
	defaultCleanupWindow time.Duration,
	logger *slog.Logger,
) *TaskHandler {
	return &TaskHandler{
		tasks:                tasks,
		supervisor:           supervisor,
		progress:             progress,
		executors:            executors,
		defaultCleanupWindow: defaultCleanupWindow,
		validator:            validator.New(),
		logger:               logger.With("component", "task_handler"),
	}
}

// EnqueueParse handles POST /api/tasks/parse.
func (h *TaskHandler) EnqueueParse(w http.ResponseWriter, r *http.Request) {
	var req EnqueueParseRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	files := make([]service.ParseFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, service.ParseFile{
			FileRef:      f.FileRef,
			ContentType:  f.ContentType,
			OriginalName: f.OriginalName,
		})
	}

	recs, err := h.tasks.EnqueueParse(r.Context(), files, req.Immediate)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]TaskResponse, 0, len(recs))
	for _, rec := range recs {
		responses = append(responses, toTaskResponse(rec))
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]interface{}{"tasks": responses})
}

// EnqueueMatch handles POST /api/tasks/match.
func (h *TaskHandler) EnqueueMatch(w http.ResponseWriter, r *http.Request) {
	var req EnqueueMatchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	rec, err := h.tasks.EnqueueMatch(r.Context(), req.JobID, req.CandidateIDs, req.Immediate)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, toTaskResponse(rec))
}

// EnqueueGeneration handles POST /api/tasks/generation.
func (h *TaskHandler) EnqueueGeneration(w http.ResponseWriter, r *http.Request) {
	var req EnqueueGenerationRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	rec, err := h.tasks.EnqueueGeneration(r.Context(), req.Template, req.Inputs)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, toTaskResponse(rec))
}

// GetTask handles GET /api/tasks/{kind}/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ledger, id, ok := h.resolveTask(w, r)
	if !ok {
		return
	}

	rec, err := ledger.GetByID(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, toTaskResponse(rec))
}

// RunTask handles POST /api/tasks/{kind}/{id}/run: it claims the pending
// task and starts it immediately, regardless of its scheduled time.
func (h *TaskHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.parseKindAndID(w, r)
	if !ok {
		return
	}

	if err := h.supervisor.RunNow(r.Context(), kind, id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{"status": "started"})
}

// CancelTask handles POST /api/tasks/{kind}/{id}/cancel. Only pending tasks
// can be cancelled.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ledger, id, ok := h.resolveTask(w, r)
	if !ok {
		return
	}

	if err := ledger.Cancel(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "cancelled"})
}

// DeleteTask handles DELETE /api/tasks/{kind}/{id}. Running tasks cannot be
// deleted.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ledger, id, ok := h.resolveTask(w, r)
	if !ok {
		return
	}

	if err := ledger.Delete(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MatchProgress handles GET /api/jobs/{id}/match-progress. Jobs with no
// live entry report idle; 404 is reserved for malformed ids.
func (h *TaskHandler) MatchProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	snapshot, _ := h.progress.Snapshot(jobID)
	shared.RespondWithJSON(w, r, http.StatusOK, snapshot)
}

// Cleanup handles POST /api/admin/tasks/cleanup: the operator sweep that
// recovers tasks stranded in RUNNING by a process crash.
func (h *TaskHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	olderThan := h.defaultCleanupWindow

	// The body is optional; an empty body uses the configured default.
	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.OlderThanMinutes > 0 {
		olderThan = time.Duration(req.OlderThanMinutes) * time.Minute
	}

	result, err := h.supervisor.Cleanup(r.Context(), olderThan)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Cleanup failed", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// decodeAndValidate parses the JSON body into req and validates it, writing
// the error response itself on failure.
func (h *TaskHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return false
	}
	return true
}

// parseKindAndID extracts and validates the {kind} and {id} URL params.
func (h *TaskHandler) parseKindAndID(w http.ResponseWriter, r *http.Request) (task.Kind, uuid.UUID, bool) {
	kind := task.Kind(chi.URLParam(r, "kind"))
	valid := false
	for _, k := range task.Kinds() {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		shared.RespondWithError(w, r, http.StatusNotFound, "Unknown task kind")
		return "", uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return "", uuid.Nil, false
	}
	return kind, id, true
}

// resolveTask parses the URL params and resolves the kind's ledger.
func (h *TaskHandler) resolveTask(w http.ResponseWriter, r *http.Request) (task.Ledger, uuid.UUID, bool) {
	kind, id, ok := h.parseKindAndID(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}
	ledger, ok := h.supervisor.Ledger(kind)
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "Unknown task kind")
		return nil, uuid.Nil, false
	}
	return ledger, id, true
}
