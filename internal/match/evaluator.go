package match

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
)

// Scorer is the LLM collaborator that produces the authoritative match
// score and evaluation text for one (candidate, job) pair.
type Scorer interface {
	ScoreMatch(ctx context.Context, job *domain.Job, candidate *domain.Candidate) (score int, evaluation string, err error)
}

// Evaluator produces a MatchResult for one pair: the coarse tag summary
// plus the authoritative score. Any Scorer failure degrades that single
// pair to the coarse score with a deterministic explanation; the failure
// never propagates to the batch.
type Evaluator struct {
	scorer Scorer
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(scorer Scorer, logger *slog.Logger) *Evaluator {
	return &Evaluator{scorer: scorer, logger: logger}
}

// Evaluate scores one candidate against one job.
func (e *Evaluator) Evaluate(ctx context.Context, job *domain.Job, candidate *domain.Candidate) (*domain.MatchResult, error) {
	summary := CoarseScore(job, candidate)

	score, evaluation, err := e.scorer.ScoreMatch(ctx, job, candidate)
	fallback := false
	if err != nil {
		e.logger.WarnContext(ctx, "LLM evaluation failed, falling back to coarse score",
			"candidate_id", candidate.ID,
			"job_id", job.ID,
			"error", err)
		score = summary.CoarseScore
		evaluation = fmt.Sprintf(
			"Automatic evaluation unavailable. Score derived from tag overlap: %d of %d requirement tags matched.",
			len(summary.Matched), len(summary.Matched)+len(summary.Similar)+len(summary.Missing))
		fallback = true
	}

	result, err := domain.NewMatchResult(candidate.ID, job.ID, score, evaluation)
	if err != nil {
		return nil, fmt.Errorf("failed to build match result: %w", err)
	}
	result.Fallback = fallback
	result.TagSummary = summary
	return result, nil
}
