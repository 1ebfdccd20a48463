package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
	"github.com/sjtutim/hrdb-sub001/internal/events"
	"github.com/sjtutim/hrdb-sub001/internal/service"
	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixtureJobStore struct {
	jobs map[uuid.UUID]*domain.Job
}

func (f *fixtureJobStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, store.ErrJobNotFound
}

type fixtureCandidateStore struct {
	ids []uuid.UUID
}

func (f *fixtureCandidateStore) Create(_ context.Context, _ *domain.Candidate) error { return nil }

func (f *fixtureCandidateStore) GetByID(_ context.Context, _ uuid.UUID) (*domain.Candidate, error) {
	return nil, store.ErrCandidateNotFound
}

func (f *fixtureCandidateStore) GetByEmail(_ context.Context, _ string) (*domain.Candidate, error) {
	return nil, store.ErrCandidateNotFound
}

func (f *fixtureCandidateStore) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	return f.ids, nil
}

func (f *fixtureCandidateStore) UpdateTotalScore(_ context.Context, _ uuid.UUID, _ int) error {
	return nil
}

type handlerFixture struct {
	handler *TaskHandler
	router  *chi.Mux
	ledgers map[task.Kind]*task.MockLedger
	jobs    *fixtureJobStore
}

// newHandlerFixture wires a TaskHandler over mock ledgers and trivial
// executors, with routes registered the way the server router does it.
func newHandlerFixture(t *testing.T, executors map[task.Kind]task.Executor) *handlerFixture {
	t.Helper()

	logger := testLogger()
	ledgers := make(map[task.Kind]*task.MockLedger)
	schedulers := make(map[task.Kind]*task.Scheduler)
	if executors == nil {
		executors = make(map[task.Kind]task.Executor)
	}

	for _, kind := range task.Kinds() {
		ledger := task.NewMockLedger()
		ledgers[kind] = ledger

		exec, ok := executors[kind]
		if !ok {
			exec = task.ExecutorFunc(func(_ context.Context, _ *task.Record) (json.RawMessage, error) {
				return json.RawMessage(`{"ok":true}`), nil
			})
			executors[kind] = exec
		}

		cfg := task.DefaultSchedulerConfig(kind)
		cfg.PollInterval = time.Hour
		schedulers[kind] = task.NewScheduler(ledger, exec, cfg, logger, nil)
	}

	supervisor := task.NewSupervisor(schedulers, logger)
	progress := task.NewProgressStore(time.Hour)
	jobs := &fixtureJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
	candidates := &fixtureCandidateStore{}

	emitter := events.NewInMemoryEventEmitter(logger)
	tasks, err := service.NewTaskService(supervisor, jobs, candidates, emitter, "03:00", "Asia/Shanghai", testLogger())
	require.NoError(t, err)

	handler := NewTaskHandler(tasks, supervisor, progress, executors, 5*time.Minute, logger)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Post("/tasks/parse", handler.EnqueueParse)
		r.Post("/tasks/match", handler.EnqueueMatch)
		r.Post("/tasks/generation", handler.EnqueueGeneration)
		r.Get("/tasks/{kind}/{id}", handler.GetTask)
		r.Post("/tasks/{kind}/{id}/run", handler.RunTask)
		r.Post("/tasks/{kind}/{id}/cancel", handler.CancelTask)
		r.Delete("/tasks/{kind}/{id}", handler.DeleteTask)
		r.Get("/tasks/{kind}/{id}/stream", handler.StreamTask)
		r.Get("/jobs/{id}/match-progress", handler.MatchProgress)
		r.Post("/admin/tasks/cleanup", handler.Cleanup)
	})

	return &handlerFixture{handler: handler, router: router, ledgers: ledgers, jobs: jobs}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *handlerFixture) seedJob(t *testing.T) *domain.Job {
	t.Helper()
	job, err := domain.NewJob("Backend Engineer", "")
	require.NoError(t, err)
	f.jobs.jobs[job.ID] = job
	return job
}

func TestEnqueueParse_Accepted(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rr := f.do(t, http.MethodPost, "/api/tasks/parse", EnqueueParseRequest{
		Files: []ParseFileRequest{
			{FileRef: "resumes/a.txt", ContentType: "text/plain", OriginalName: "a.txt"},
			{FileRef: "resumes/b.txt", ContentType: "text/plain", OriginalName: "b.txt"},
		},
	})

	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp struct {
		Tasks []TaskResponse `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
	for _, tr := range resp.Tasks {
		assert.Equal(t, task.KindParse, tr.Kind)
		assert.Equal(t, task.StatusPending, tr.Status)
		// Deferred by default: scheduled for the next daily cutoff.
		assert.NotNil(t, tr.ScheduledFor)
	}
}

func TestEnqueueParse_EmptyBodyRejected(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rr := f.do(t, http.MethodPost, "/api/tasks/parse", EnqueueParseRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEnqueueMatch_Accepted(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	job := f.seedJob(t)

	rr := f.do(t, http.MethodPost, "/api/tasks/match", EnqueueMatchRequest{
		JobID:        job.ID,
		CandidateIDs: []uuid.UUID{uuid.New()},
		Immediate:    true,
	})

	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, task.KindMatch, resp.Kind)
	assert.Nil(t, resp.ScheduledFor)
}

func TestEnqueueMatch_UnknownJobIs404(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rr := f.do(t, http.MethodPost, "/api/tasks/match", EnqueueMatchRequest{
		JobID:        uuid.New(),
		CandidateIDs: []uuid.UUID{uuid.New()},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEnqueueMatch_DuplicateIs409(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	job := f.seedJob(t)
	body := EnqueueMatchRequest{JobID: job.ID, CandidateIDs: []uuid.UUID{uuid.New()}}

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/tasks/match", body).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/tasks/match", body).Code)
}

func TestEnqueueGeneration_BadTemplateIs400(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rr := f.do(t, http.MethodPost, "/api/tasks/generation", EnqueueGenerationRequest{
		Template: "cover_letter",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetTask_RoundTrip(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rec := task.NewRecord(task.KindParse, json.RawMessage(`{"file_ref":"a.txt"}`), nil)
	f.ledgers[task.KindParse].Seed(rec)

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/parse/%s", rec.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, rec.ID, resp.ID)
	assert.Equal(t, task.StatusPending, resp.Status)
}

func TestGetTask_NotFound(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/parse/%s", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetTask_UnknownKind(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/reindex/%s", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunTask_StartsScheduledTaskEarly(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	future := time.Now().Add(12 * time.Hour)
	rec := task.NewRecord(task.KindParse, json.RawMessage(`{"file_ref":"a.txt"}`), &future)
	f.ledgers[task.KindParse].Seed(rec)

	rr := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/parse/%s/run", rec.ID), nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Eventually(t, func() bool {
		status, ok := f.ledgers[task.KindParse].StatusOf(rec.ID)
		return ok && status == task.StatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestRunTask_ConflictWhenRunning(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rec := task.NewRecord(task.KindMatch, json.RawMessage(`{}`), nil)
	f.ledgers[task.KindMatch].Seed(rec)
	require.NoError(t, f.ledgers[task.KindMatch].MarkRunning(context.Background(), rec.ID))

	rr := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/match/%s/run", rec.ID), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCancelTask_OnlyPending(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rec := task.NewRecord(task.KindGeneration, json.RawMessage(`{}`), nil)
	f.ledgers[task.KindGeneration].Seed(rec)

	rr := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/generation/%s/cancel", rec.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	status, _ := f.ledgers[task.KindGeneration].StatusOf(rec.ID)
	assert.Equal(t, task.StatusCancelled, status)

	// Cancelled is terminal; a second cancel conflicts.
	rr = f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/generation/%s/cancel", rec.ID), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestDeleteTask_RunningIs409(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rec := task.NewRecord(task.KindParse, json.RawMessage(`{}`), nil)
	f.ledgers[task.KindParse].Seed(rec)
	require.NoError(t, f.ledgers[task.KindParse].MarkRunning(context.Background(), rec.ID))

	rr := f.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/parse/%s", rec.ID), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestDeleteTask_Pending(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rec := task.NewRecord(task.KindParse, json.RawMessage(`{}`), nil)
	f.ledgers[task.KindParse].Seed(rec)

	rr := f.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/parse/%s", rec.ID), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	_, ok := f.ledgers[task.KindParse].StatusOf(rec.ID)
	assert.False(t, ok)
}

func TestMatchProgress_IdleWhenUnknown(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/jobs/%s/match-progress", uuid.New()), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var progress task.Progress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &progress))
	assert.Equal(t, task.ProgressIdle, progress.Status)
}

func TestMatchProgress_ReportsLiveEntry(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	jobID := uuid.New()
	f.handler.progress.Begin(jobID, 10)
	f.handler.progress.Step(jobID, 4, "Ada Lovelace")

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/jobs/%s/match-progress", jobID), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var progress task.Progress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &progress))
	assert.Equal(t, task.ProgressRunning, progress.Status)
	assert.Equal(t, 4, progress.Processed)
	assert.Equal(t, "Ada Lovelace", progress.CurrentLabel)
}

func TestCleanup_AppliesPerKindRecovery(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)

	stale := task.NewRecord(task.KindParse, json.RawMessage(`{}`), nil)
	stale.Status = task.StatusRunning
	stale.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	f.ledgers[task.KindParse].Seed(stale)

	rr := f.do(t, http.MethodPost, "/api/admin/tasks/cleanup", CleanupRequest{OlderThanMinutes: 5})
	require.Equal(t, http.StatusOK, rr.Code)

	status, _ := f.ledgers[task.KindParse].StatusOf(stale.ID)
	assert.Equal(t, task.StatusPending, status)
}
