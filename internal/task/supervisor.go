package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Supervisor owns the per-kind poll schedulers. It is constructed once at
// process start and holds its own timers and an initialization flag, so a
// second Start in the same process is a no-op rather than arming duplicate
// timers.
type Supervisor struct {
	schedulers map[Kind]*Scheduler
	ledgers    map[Kind]Ledger
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewSupervisor creates a Supervisor over the given schedulers. Each
// scheduler's ledger is also registered for run-now and cleanup access.
func NewSupervisor(schedulers map[Kind]*Scheduler, logger *slog.Logger) *Supervisor {
	ledgers := make(map[Kind]Ledger, len(schedulers))
	for kind, s := range schedulers {
		ledgers[kind] = s.ledger
	}
	return &Supervisor{
		schedulers: schedulers,
		ledgers:    ledgers,
		logger:     logger.With("component", "task_supervisor"),
	}
}

// Start arms every scheduler's poll timer. Idempotent process-wide: calling
// it again is a no-op.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.logger.Warn("task supervisor already started, ignoring duplicate start")
		return
	}
	s.started = true

	for _, sched := range s.schedulers {
		sched.Start()
	}
	s.logger.Info("task supervisor started", "queue_count", len(s.schedulers))
}

// Stop stops every scheduler and waits for in-flight work to settle.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	for _, sched := range s.schedulers {
		sched.Stop()
	}
	s.logger.Info("task supervisor stopped")
}

// Ledger returns the durable store for a kind.
func (s *Supervisor) Ledger(kind Kind) (Ledger, bool) {
	l, ok := s.ledgers[kind]
	return l, ok
}

// RunNow claims the given pending task and executes it in the background,
// independent of its scheduled_for time. Returns ErrTaskConflict if the
// record is not pending, so callers can report the conflict synchronously.
func (s *Supervisor) RunNow(ctx context.Context, kind Kind, id uuid.UUID) error {
	sched, ok := s.schedulers[kind]
	if !ok {
		return fmt.Errorf("unknown task kind %q", kind)
	}

	rec, err := sched.ledger.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := sched.ledger.MarkRunning(ctx, id); err != nil {
		return err
	}
	sched.metrics.RecordTransition(string(kind), string(StatusRunning))

	sched.ExecuteClaimed(rec)
	return nil
}

// CleanupResult reports what one cleanup sweep changed.
type CleanupResult struct {
	Requeued map[Kind]int64 `json:"requeued"`
	Failed   map[Kind]int64 `json:"failed"`
}

// Cleanup sweeps all kinds with a single global staleness threshold,
// applying each kind's own recovery action. Used by operators to recover
// from total-process-crash scenarios, independently of the per-kind
// scheduler sweeps. Re-running it when nothing is stale is a no-op.
func (s *Supervisor) Cleanup(ctx context.Context, olderThan time.Duration) (*CleanupResult, error) {
	res := &CleanupResult{
		Requeued: make(map[Kind]int64),
		Failed:   make(map[Kind]int64),
	}

	for kind, sched := range s.schedulers {
		switch sched.cfg.Recovery {
		case RecoverFail:
			reason := fmt.Sprintf("task stuck in running state for over %s, recovered by operator cleanup", olderThan)
			n, err := sched.ledger.ResetStuckToFailed(ctx, olderThan, reason)
			if err != nil {
				return nil, fmt.Errorf("cleanup sweep for %s tasks failed: %w", kind, err)
			}
			res.Failed[kind] = n
			sched.metrics.RecordStuckRecovered(string(kind), "fail", n)
		default:
			n, err := sched.ledger.ResetStuckToPending(ctx, olderThan)
			if err != nil {
				return nil, fmt.Errorf("cleanup sweep for %s tasks failed: %w", kind, err)
			}
			res.Requeued[kind] = n
			sched.metrics.RecordStuckRecovered(string(kind), "requeue", n)
		}
	}

	s.logger.Info("cleanup sweep finished",
		"older_than", olderThan,
		"requeued", res.Requeued,
		"failed", res.Failed)
	return res, nil
}
