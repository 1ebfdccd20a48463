package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// Payload is the durable payload of one match task.
type Payload struct {
	JobID        uuid.UUID   `json:"job_id"`
	CandidateIDs []uuid.UUID `json:"candidate_ids"`
}

// Result is the durable result of one completed match task.
type Result struct {
	JobID     uuid.UUID `json:"job_id"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Fallbacks int       `json:"fallbacks"`
}

// ErrNoCandidates indicates a match payload with an empty candidate set.
var ErrNoCandidates = errors.New("match task has no candidates")

// Service executes match tasks: it evaluates every candidate in the payload
// against the job with bounded concurrency, upserts each result, recomputes
// each candidate's aggregate score, and reports item-granularity progress to
// both the ledger and the ephemeral progress store keyed by job id.
type Service struct {
	evaluator   *Evaluator
	candidates  store.CandidateStore
	jobs        store.JobStore
	results     store.MatchResultStore
	ledger      task.Ledger
	progress    *task.ProgressStore
	concurrency int
	logger      *slog.Logger
}

// NewService creates the match executor.
func NewService(
	evaluator *Evaluator,
	candidates store.CandidateStore,
	jobs store.JobStore,
	results store.MatchResultStore,
	ledger task.Ledger,
	progress *task.ProgressStore,
	concurrency int,
	logger *slog.Logger,
) *Service {
	if concurrency <= 0 {
		concurrency = task.DefaultBatchConcurrency
	}
	return &Service{
		evaluator:   evaluator,
		candidates:  candidates,
		jobs:        jobs,
		results:     results,
		ledger:      ledger,
		progress:    progress,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Execute implements task.Executor.
func (s *Service) Execute(ctx context.Context, rec *task.Record) (json.RawMessage, error) {
	var payload Payload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid match payload: %w", err)
	}
	if len(payload.CandidateIDs) == 0 {
		return nil, ErrNoCandidates
	}

	job, err := s.jobs.GetByID(ctx, payload.JobID)
	if err != nil {
		s.progress.Begin(payload.JobID, len(payload.CandidateIDs))
		s.progress.Fail(payload.JobID, "job not found")
		return nil, fmt.Errorf("failed to load job %s: %w", payload.JobID, err)
	}

	total := len(payload.CandidateIDs)
	s.progress.Begin(payload.JobID, total)
	if err := s.ledger.UpdateProgress(ctx, rec.ID, 0, total); err != nil {
		s.logger.WarnContext(ctx, "failed to initialize task progress",
			"task_id", rec.ID,
			"error", err)
	}

	var (
		mu        sync.Mutex
		processed int
		fallbacks int
	)

	errs := task.RunBounded(ctx, total, s.concurrency, func(ctx context.Context, i int) error {
		candidateID := payload.CandidateIDs[i]

		candidate, err := s.candidates.GetByID(ctx, candidateID)
		if err != nil {
			return fmt.Errorf("failed to load candidate %s: %w", candidateID, err)
		}

		result, err := s.evaluator.Evaluate(ctx, job, candidate)
		if err != nil {
			return err
		}

		if err := s.results.Upsert(ctx, result); err != nil {
			return fmt.Errorf("failed to store result for candidate %s: %w", candidateID, err)
		}

		if err := s.recomputeTotalScore(ctx, candidateID); err != nil {
			return err
		}

		mu.Lock()
		processed++
		done := processed
		if result.Fallback {
			fallbacks++
		}
		mu.Unlock()

		s.progress.Step(payload.JobID, done, candidate.Name)
		if err := s.ledger.UpdateProgress(ctx, rec.ID, done, total); err != nil {
			s.logger.WarnContext(ctx, "failed to update task progress",
				"task_id", rec.ID,
				"error", err)
		}
		return nil
	})

	failed := 0
	for i, itemErr := range errs {
		if itemErr != nil {
			failed++
			s.logger.ErrorContext(ctx, "match item failed",
				"task_id", rec.ID,
				"job_id", payload.JobID,
				"candidate_id", payload.CandidateIDs[i],
				"error", itemErr)
		}
	}

	summary := Result{
		JobID:     payload.JobID,
		Total:     total,
		Succeeded: total - failed,
		Failed:    failed,
		Fallbacks: fallbacks,
	}
	resultJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match result: %w", err)
	}

	if failed == total {
		msg := fmt.Sprintf("all %d candidates failed evaluation", total)
		s.progress.Fail(payload.JobID, msg)
		return nil, errors.New(msg)
	}

	s.progress.Finish(payload.JobID, resultJSON)
	return resultJSON, nil
}

// recomputeTotalScore refreshes candidates.total_score as the maximum
// authoritative score across the candidate's match results.
func (s *Service) recomputeTotalScore(ctx context.Context, candidateID uuid.UUID) error {
	max, ok, err := s.results.MaxScoreForCandidate(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("failed to compute aggregate score for candidate %s: %w", candidateID, err)
	}
	if !ok {
		return nil
	}
	if err := s.candidates.UpdateTotalScore(ctx, candidateID, max); err != nil {
		return fmt.Errorf("failed to store aggregate score for candidate %s: %w", candidateID, err)
	}
	return nil
}

var _ task.Executor = (*Service)(nil)
