package parsing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
	"github.com/sjtutim/hrdb-sub001/internal/platform/blobstore"
	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type analyzerFunc func(ctx context.Context, text string) (*domain.ResumeAnalysis, error)

func (f analyzerFunc) AnalyzeResume(ctx context.Context, text string) (*domain.ResumeAnalysis, error) {
	return f(ctx, text)
}

type fakeCandidateStore struct {
	mu         sync.Mutex
	byEmail    map[string]*domain.Candidate
	createErr  error
	lastSaved  *domain.Candidate
	createCall int
}

func newFakeCandidateStore() *fakeCandidateStore {
	return &fakeCandidateStore{byEmail: make(map[string]*domain.Candidate)}
}

func (f *fakeCandidateStore) Create(_ context.Context, c *domain.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCall++
	if f.createErr != nil {
		return f.createErr
	}
	f.byEmail[c.Email] = c
	f.lastSaved = c
	return nil
}

func (f *fakeCandidateStore) GetByID(_ context.Context, _ uuid.UUID) (*domain.Candidate, error) {
	return nil, store.ErrCandidateNotFound
}

func (f *fakeCandidateStore) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeCandidateStore) GetByEmail(_ context.Context, email string) (*domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byEmail[email]; ok {
		return c, nil
	}
	return nil, store.ErrCandidateNotFound
}

func (f *fakeCandidateStore) UpdateTotalScore(_ context.Context, _ uuid.UUID, _ int) error {
	return nil
}

func goodAnalysis() *domain.ResumeAnalysis {
	return &domain.ResumeAnalysis{
		IsResume: true,
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Phone:    "555-0100",
		Summary:  "Pioneering engineer.",
		Tags: []domain.Tag{
			{Category: domain.TagCategorySkill, Name: "Go"},
			{Category: domain.TagCategoryEducation, Name: "Mathematics"},
		},
	}
}

func newParseFixture(t *testing.T, analyzer Analyzer) (*Service, blobstore.Store, *fakeCandidateStore) {
	t.Helper()
	blobs, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	candidates := newFakeCandidateStore()
	svc := NewService(blobs, analyzer, candidates, testLogger())
	return svc, blobs, candidates
}

func parseRecord(t *testing.T, fileRef string) *task.Record {
	t.Helper()
	payload, err := json.Marshal(Payload{FileRef: fileRef})
	require.NoError(t, err)
	return task.NewRecord(task.KindParse, payload, nil)
}

func TestService_Run_Success(t *testing.T) {
	t.Parallel()

	svc, blobs, candidates := newParseFixture(t, analyzerFunc(
		func(_ context.Context, text string) (*domain.ResumeAnalysis, error) {
			assert.Contains(t, text, "Ada Lovelace")
			return goodAnalysis(), nil
		}))

	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "resumes/ada.txt", []byte("Ada Lovelace\nEngineer\n")))

	var phases []string
	resultJSON, err := svc.Run(ctx, parseRecord(t, "resumes/ada.txt"), func(phase string, percent int) {
		phases = append(phases, phase)
		assert.LessOrEqual(t, percent, 100)
	})
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal(resultJSON, &result))
	assert.Equal(t, "Ada Lovelace", result.Name)
	assert.Equal(t, "ada@example.com", result.Email)
	assert.Equal(t, 2, result.TagCount)

	require.NotNil(t, candidates.lastSaved)
	assert.Equal(t, "resumes/ada.txt", candidates.lastSaved.ResumeRef)
	assert.Equal(t, result.CandidateID, candidates.lastSaved.ID)

	assert.Equal(t, []string{PhaseDownload, PhaseExtract, PhaseAnalyze, PhasePersist, PhasePersist}, phases)
}

func TestService_Run_NotAResume(t *testing.T) {
	t.Parallel()

	svc, blobs, candidates := newParseFixture(t, analyzerFunc(
		func(_ context.Context, _ string) (*domain.ResumeAnalysis, error) {
			return &domain.ResumeAnalysis{IsResume: false}, nil
		}))

	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "docs/invoice.txt", []byte("Invoice #42")))

	_, err := svc.Run(ctx, parseRecord(t, "docs/invoice.txt"), nil)
	assert.ErrorIs(t, err, ErrNotAResume)
	assert.Zero(t, candidates.createCall)
}

func TestService_Run_MissingContactInfo(t *testing.T) {
	t.Parallel()

	analysis := goodAnalysis()
	analysis.Email = "  "
	svc, blobs, _ := newParseFixture(t, analyzerFunc(
		func(_ context.Context, _ string) (*domain.ResumeAnalysis, error) {
			return analysis, nil
		}))

	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "r.txt", []byte("some resume")))

	_, err := svc.Run(ctx, parseRecord(t, "r.txt"), nil)
	assert.ErrorIs(t, err, ErrMissingContactInfo)
}

func TestService_Run_DuplicateEmail(t *testing.T) {
	t.Parallel()

	svc, blobs, candidates := newParseFixture(t, analyzerFunc(
		func(_ context.Context, _ string) (*domain.ResumeAnalysis, error) {
			return goodAnalysis(), nil
		}))

	existing, err := domain.NewCandidate("Ada Lovelace", "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, candidates.Create(context.Background(), existing))

	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "r.txt", []byte("resume text")))

	_, err = svc.Run(ctx, parseRecord(t, "r.txt"), nil)
	assert.ErrorIs(t, err, store.ErrEmailExists)
}

func TestService_Run_MissingBlob(t *testing.T) {
	t.Parallel()

	svc, _, _ := newParseFixture(t, analyzerFunc(
		func(_ context.Context, _ string) (*domain.ResumeAnalysis, error) {
			t.Fatal("analyzer must not be called")
			return nil, nil
		}))

	_, err := svc.Run(context.Background(), parseRecord(t, "missing.txt"), nil)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestService_Run_EmptyDocument(t *testing.T) {
	t.Parallel()

	svc, blobs, _ := newParseFixture(t, analyzerFunc(
		func(_ context.Context, _ string) (*domain.ResumeAnalysis, error) {
			t.Fatal("analyzer must not be called")
			return nil, nil
		}))

	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "empty.txt", []byte("   \n")))

	_, err := svc.Run(ctx, parseRecord(t, "empty.txt"), nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestService_Run_UnsupportedContent(t *testing.T) {
	t.Parallel()

	svc, blobs, _ := newParseFixture(t, analyzerFunc(
		func(_ context.Context, _ string) (*domain.ResumeAnalysis, error) {
			t.Fatal("analyzer must not be called")
			return nil, nil
		}))

	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "scan.pdf", []byte{0x25, 0x50, 0x44, 0x46, 0xff, 0xfe}))

	payload, err := json.Marshal(Payload{
		FileRef:      "scan.pdf",
		ContentType:  "application/pdf",
		OriginalName: "resume-scan.pdf",
	})
	require.NoError(t, err)

	_, err = svc.Run(ctx, task.NewRecord(task.KindParse, payload, nil), nil)
	require.ErrorIs(t, err, ErrUnsupportedContent)
	assert.Contains(t, err.Error(), "resume-scan.pdf")
	assert.Contains(t, err.Error(), "application/pdf")
}

func TestService_Run_AnalyzerErrorPropagates(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("model timeout")
	svc, blobs, _ := newParseFixture(t, analyzerFunc(
		func(_ context.Context, _ string) (*domain.ResumeAnalysis, error) {
			return nil, wantErr
		}))

	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "r.txt", []byte("resume")))

	_, err := svc.Run(ctx, parseRecord(t, "r.txt"), nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestService_Execute_UsesNilReporter(t *testing.T) {
	t.Parallel()

	svc, blobs, _ := newParseFixture(t, analyzerFunc(
		func(_ context.Context, _ string) (*domain.ResumeAnalysis, error) {
			return goodAnalysis(), nil
		}))

	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "r.txt", []byte("resume")))

	result, err := svc.Execute(ctx, parseRecord(t, "r.txt"))
	require.NoError(t, err)
	assert.NotEmpty(t, result)
}
