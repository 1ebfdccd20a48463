// Package parsing implements the resume parse pipeline: fetch the stored
// document, extract its text, run the LLM analysis, and persist the
// resulting candidate profile.
package parsing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
	"github.com/sjtutim/hrdb-sub001/internal/platform/blobstore"
	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// Validation failures are terminal for the document: requeueing the same
// file would fail identically, so these never warrant a retry.
var (
	// ErrNotAResume indicates the document is not a resume at all.
	ErrNotAResume = errors.New("document is not a resume")

	// ErrMissingContactInfo indicates the resume lacks a usable name or
	// email.
	ErrMissingContactInfo = errors.New("resume is missing name or email")

	// ErrEmptyDocument indicates the document contained no extractable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrUnsupportedContent indicates the document's content type cannot be
	// decoded as text.
	ErrUnsupportedContent = errors.New("document content type is not supported")
)

// Payload is the durable payload of one parse task.
type Payload struct {
	FileRef      string `json:"file_ref"`
	ContentType  string `json:"content_type,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
}

// Result is the durable result of one completed parse task.
type Result struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	TagCount    int       `json:"tag_count"`
}

// Analyzer is the LLM collaborator that extracts structured candidate data
// from resume text.
type Analyzer interface {
	AnalyzeResume(ctx context.Context, text string) (*domain.ResumeAnalysis, error)
}

// Reporter receives phase-granularity progress while a parse runs. percent
// is 0 to 100 and monotonically non-decreasing across phases.
type Reporter func(phase string, percent int)

// Pipeline phase names, in execution order.
const (
	PhaseDownload = "download"
	PhaseExtract  = "extract"
	PhaseAnalyze  = "analyze"
	PhasePersist  = "persist"
)

// Service executes parse tasks.
type Service struct {
	blobs      blobstore.Store
	analyzer   Analyzer
	candidates store.CandidateStore
	logger     *slog.Logger
}

// NewService creates the parse executor.
func NewService(blobs blobstore.Store, analyzer Analyzer, candidates store.CandidateStore, logger *slog.Logger) *Service {
	return &Service{
		blobs:      blobs,
		analyzer:   analyzer,
		candidates: candidates,
		logger:     logger,
	}
}

// Execute implements task.Executor.
func (s *Service) Execute(ctx context.Context, rec *task.Record) (json.RawMessage, error) {
	return s.Run(ctx, rec, nil)
}

// Run executes the pipeline, reporting each phase to report when non-nil.
// The streaming endpoint uses the reporter; the poll scheduler passes nil.
func (s *Service) Run(ctx context.Context, rec *task.Record, report Reporter) (json.RawMessage, error) {
	if report == nil {
		report = func(string, int) {}
	}

	var payload Payload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid parse payload: %w", err)
	}
	if payload.FileRef == "" {
		return nil, fmt.Errorf("parse payload missing file_ref")
	}

	report(PhaseDownload, 10)
	data, err := s.blobs.Get(ctx, payload.FileRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", payload.FileRef, err)
	}

	report(PhaseExtract, 30)
	text, err := extractText(data, payload.ContentType)
	if err != nil {
		if payload.OriginalName != "" {
			return nil, fmt.Errorf("%s: %w", payload.OriginalName, err)
		}
		return nil, err
	}

	report(PhaseAnalyze, 50)
	analysis, err := s.analyzer.AnalyzeResume(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("resume analysis failed: %w", err)
	}
	if !analysis.IsResume {
		return nil, ErrNotAResume
	}
	if strings.TrimSpace(analysis.Name) == "" || strings.TrimSpace(analysis.Email) == "" {
		return nil, ErrMissingContactInfo
	}

	report(PhasePersist, 85)
	candidate, err := s.persist(ctx, payload.FileRef, analysis)
	if err != nil {
		return nil, err
	}
	report(PhasePersist, 100)

	s.logger.InfoContext(ctx, "resume parsed",
		"task_id", rec.ID,
		"candidate_id", candidate.ID,
		"file_ref", payload.FileRef,
		"tag_count", len(candidate.Tags))

	result := Result{
		CandidateID: candidate.ID,
		Name:        candidate.Name,
		Email:       candidate.Email,
		TagCount:    len(candidate.Tags),
	}
	return json.Marshal(result)
}

func (s *Service) persist(ctx context.Context, fileRef string, analysis *domain.ResumeAnalysis) (*domain.Candidate, error) {
	// Check for an existing profile with the same email before creating;
	// the unique constraint on the table is the backstop for races.
	_, err := s.candidates.GetByEmail(ctx, analysis.Email)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrEmailExists, analysis.Email)
	}
	if !errors.Is(err, store.ErrCandidateNotFound) {
		return nil, fmt.Errorf("failed to check for existing candidate: %w", err)
	}

	candidate, err := domain.NewCandidate(analysis.Name, analysis.Email)
	if err != nil {
		return nil, fmt.Errorf("invalid candidate data: %w", err)
	}
	candidate.Phone = analysis.Phone
	candidate.Summary = analysis.Summary
	candidate.Tags = analysis.Tags
	candidate.ResumeRef = fileRef

	if err := s.candidates.Create(ctx, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// extractText converts raw document bytes to text. Only UTF-8 text content
// is supported; binary formats need conversion before upload.
func extractText(data []byte, contentType string) (string, error) {
	if !utf8.Valid(data) {
		if contentType != "" {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
		}
		return "", fmt.Errorf("%w: document is not valid UTF-8 text", ErrUnsupportedContent)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

var _ task.Executor = (*Service)(nil)
