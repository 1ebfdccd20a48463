package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
	"github.com/sjtutim/hrdb-sub001/internal/events"
	"github.com/sjtutim/hrdb-sub001/internal/generation"
	"github.com/sjtutim/hrdb-sub001/internal/match"
	"github.com/sjtutim/hrdb-sub001/internal/parsing"
	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLedgers map[task.Kind]*task.MockLedger

func newFakeLedgers() fakeLedgers {
	ledgers := make(fakeLedgers)
	for _, kind := range task.Kinds() {
		ledgers[kind] = task.NewMockLedger()
	}
	return ledgers
}

func (f fakeLedgers) Ledger(kind task.Kind) (task.Ledger, bool) {
	ledger, ok := f[kind]
	if !ok {
		return nil, false
	}
	return ledger, true
}

type fakeJobStore struct {
	jobs map[uuid.UUID]*domain.Job
}

func (f *fakeJobStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, store.ErrJobNotFound
}

type fakeCandidateStore struct {
	ids []uuid.UUID
}

func (f *fakeCandidateStore) Create(_ context.Context, _ *domain.Candidate) error { return nil }

func (f *fakeCandidateStore) GetByID(_ context.Context, _ uuid.UUID) (*domain.Candidate, error) {
	return nil, store.ErrCandidateNotFound
}

func (f *fakeCandidateStore) GetByEmail(_ context.Context, _ string) (*domain.Candidate, error) {
	return nil, store.ErrCandidateNotFound
}

func (f *fakeCandidateStore) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	return f.ids, nil
}

func (f *fakeCandidateStore) UpdateTotalScore(_ context.Context, _ uuid.UUID, _ int) error {
	return nil
}

type recordingEmitter struct {
	events []*events.TaskCreatedEvent
}

func (r *recordingEmitter) EmitEvent(_ context.Context, event *events.TaskCreatedEvent) error {
	r.events = append(r.events, event)
	return nil
}

func newTestService(t *testing.T) (*TaskService, fakeLedgers, *fakeJobStore, *recordingEmitter) {
	t.Helper()
	ledgers := newFakeLedgers()
	jobs := &fakeJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
	emitter := &recordingEmitter{}

	svc, err := NewTaskService(ledgers, jobs, &fakeCandidateStore{}, emitter, "03:00", "Asia/Shanghai", testLogger())
	require.NoError(t, err)
	return svc, ledgers, jobs, emitter
}

func parseFiles(refs ...string) []ParseFile {
	files := make([]ParseFile, 0, len(refs))
	for _, ref := range refs {
		files = append(files, ParseFile{FileRef: ref})
	}
	return files
}

func seedJob(t *testing.T, jobs *fakeJobStore) *domain.Job {
	t.Helper()
	job, err := domain.NewJob("Backend Engineer", "")
	require.NoError(t, err)
	jobs.jobs[job.ID] = job
	return job
}

func TestEnqueueParse_ImmediateCreatesOnePerFile(t *testing.T) {
	t.Parallel()

	svc, ledgers, _, emitter := newTestService(t)

	files := []ParseFile{
		{FileRef: "a.txt", ContentType: "text/plain", OriginalName: "resume-a.txt"},
		{FileRef: "b.txt", ContentType: "text/plain", OriginalName: "resume-b.txt"},
	}
	recs, err := svc.EnqueueParse(context.Background(), files, true)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	for i, rec := range recs {
		assert.Equal(t, task.KindParse, rec.Kind)
		assert.Nil(t, rec.ScheduledFor)
		status, ok := ledgers[task.KindParse].StatusOf(rec.ID)
		require.True(t, ok)
		assert.Equal(t, task.StatusPending, status)

		var payload parsing.Payload
		require.NoError(t, json.Unmarshal(rec.Payload, &payload))
		assert.Equal(t, files[i].FileRef, payload.FileRef)
		assert.Equal(t, files[i].ContentType, payload.ContentType)
		assert.Equal(t, files[i].OriginalName, payload.OriginalName)
	}

	require.Len(t, emitter.events, 2)
	assert.True(t, emitter.events[0].Immediate)
}

func TestEnqueueParse_DeferredGetsDailyCutoff(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)

	beijing, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	// 10:00 Beijing time: the next 03:00 cutoff is tomorrow.
	svc.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 0, 0, 0, beijing)
	}

	recs, err := svc.EnqueueParse(context.Background(), parseFiles("a.txt"), false)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NotNil(t, recs[0].ScheduledFor)
	want := time.Date(2025, 6, 2, 3, 0, 0, 0, beijing)
	assert.True(t, recs[0].ScheduledFor.Equal(want),
		"scheduled for %v, want %v", recs[0].ScheduledFor, want)
}

func TestEnqueueParse_EmptyInputs(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)

	_, err := svc.EnqueueParse(context.Background(), nil, true)
	assert.ErrorIs(t, err, ErrNoFiles)

	_, err = svc.EnqueueParse(context.Background(), parseFiles(""), true)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestEnqueueParse_SkipsFilesWithActiveTasks(t *testing.T) {
	t.Parallel()

	svc, ledgers, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnqueueParse(ctx, parseFiles("a.txt"), true)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// a.txt is still pending; only b.txt gets a new task.
	second, err := svc.EnqueueParse(ctx, parseFiles("a.txt", "b.txt"), true)
	require.NoError(t, err)
	require.Len(t, second, 1)

	var payload parsing.Payload
	require.NoError(t, json.Unmarshal(second[0].Payload, &payload))
	assert.Equal(t, "b.txt", payload.FileRef)

	// All targets covered: duplicate.
	_, err = svc.EnqueueParse(ctx, parseFiles("a.txt"), true)
	assert.ErrorIs(t, err, ErrDuplicateTask)

	_ = ledgers
}

func TestEnqueueMatch_CreatesTask(t *testing.T) {
	t.Parallel()

	svc, ledgers, jobs, emitter := newTestService(t)
	job := seedJob(t, jobs)
	candidateIDs := []uuid.UUID{uuid.New(), uuid.New()}

	rec, err := svc.EnqueueMatch(context.Background(), job.ID, candidateIDs, true)
	require.NoError(t, err)

	assert.Equal(t, task.KindMatch, rec.Kind)
	var payload match.Payload
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, candidateIDs, payload.CandidateIDs)

	status, ok := ledgers[task.KindMatch].StatusOf(rec.ID)
	require.True(t, ok)
	assert.Equal(t, task.StatusPending, status)
	require.Len(t, emitter.events, 1)
}

func TestEnqueueMatch_EmptyCandidates(t *testing.T) {
	t.Parallel()

	svc, _, jobs, _ := newTestService(t)
	job := seedJob(t, jobs)

	_, err := svc.EnqueueMatch(context.Background(), job.ID, nil, true)
	assert.ErrorIs(t, err, ErrEmptyCandidateSet)
}

func TestEnqueueMatch_DefaultsToAllCandidates(t *testing.T) {
	t.Parallel()

	ledgers := newFakeLedgers()
	jobs := &fakeJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
	candidates := &fakeCandidateStore{ids: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}}
	svc, err := NewTaskService(ledgers, jobs, candidates, &recordingEmitter{}, "03:00", "Asia/Shanghai", testLogger())
	require.NoError(t, err)
	job := seedJob(t, jobs)

	rec, err := svc.EnqueueMatch(context.Background(), job.ID, nil, true)
	require.NoError(t, err)

	var payload match.Payload
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.ElementsMatch(t, candidates.ids, payload.CandidateIDs)
}

func TestEnqueueMatch_UnknownJob(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)

	_, err := svc.EnqueueMatch(context.Background(), uuid.New(), []uuid.UUID{uuid.New()}, true)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestEnqueueMatch_DuplicateJobRejected(t *testing.T) {
	t.Parallel()

	svc, _, jobs, _ := newTestService(t)
	job := seedJob(t, jobs)
	ctx := context.Background()

	_, err := svc.EnqueueMatch(ctx, job.ID, []uuid.UUID{uuid.New()}, true)
	require.NoError(t, err)

	_, err = svc.EnqueueMatch(ctx, job.ID, []uuid.UUID{uuid.New()}, true)
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestEnqueueGeneration_AlwaysImmediate(t *testing.T) {
	t.Parallel()

	svc, ledgers, _, emitter := newTestService(t)

	rec, err := svc.EnqueueGeneration(context.Background(), generation.TemplateOutreachEmail, map[string]string{
		"candidate_name": "Ada",
		"job_title":      "Engineer",
	})
	require.NoError(t, err)

	assert.Equal(t, task.KindGeneration, rec.Kind)
	assert.Nil(t, rec.ScheduledFor)

	status, ok := ledgers[task.KindGeneration].StatusOf(rec.ID)
	require.True(t, ok)
	assert.Equal(t, task.StatusPending, status)

	require.Len(t, emitter.events, 1)
	assert.True(t, emitter.events[0].Immediate)
}

func TestEnqueueGeneration_InvalidTemplateFailsRequest(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)

	_, err := svc.EnqueueGeneration(context.Background(), "cover_letter", nil)
	assert.ErrorIs(t, err, generation.ErrUnknownTemplate)

	_, err = svc.EnqueueGeneration(context.Background(), generation.TemplateOutreachEmail, map[string]string{
		"candidate_name": "Ada",
	})
	assert.ErrorIs(t, err, generation.ErrMissingInput)
}

func TestNewTaskService_InvalidConfig(t *testing.T) {
	t.Parallel()

	ledgers := newFakeLedgers()
	jobs := &fakeJobStore{jobs: make(map[uuid.UUID]*domain.Job)}

	_, err := NewTaskService(ledgers, jobs, &fakeCandidateStore{}, nil, "25:00", "Asia/Shanghai", testLogger())
	assert.Error(t, err)

	_, err = NewTaskService(ledgers, jobs, &fakeCandidateStore{}, nil, "03:00", "Mars/Olympus", testLogger())
	assert.Error(t, err)
}
