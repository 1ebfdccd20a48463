package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjtutim/hrdb-sub001/internal/platform/metrics"
)

// RecoveryAction is what a staleness sweep does with a stuck RUNNING record.
type RecoveryAction int

const (
	// RecoverRequeue resets a stuck record back to PENDING. Safe for kinds
	// whose execution is restartable from scratch (parse, generation).
	RecoverRequeue RecoveryAction = iota

	// RecoverFail flips a stuck record to FAILED with an explanatory
	// error. Used for match tasks, whose partially-completed batches are
	// not safely restartable from the top.
	RecoverFail
)

// SchedulerConfig holds the per-kind scheduler settings.
type SchedulerConfig struct {
	Kind Kind

	// PollInterval is the fixed tick cadence.
	PollInterval time.Duration

	// StuckAfter is how long a RUNNING record may go without an update
	// before the staleness sweep recovers it.
	StuckAfter time.Duration

	// Recovery selects the sweep's action for this kind.
	Recovery RecoveryAction

	// StoreErrorCooldown throttles logging of transient store errors to at
	// most once per window, so a datastore that is still starting up does
	// not raise alarms every tick.
	StoreErrorCooldown time.Duration
}

// DefaultSchedulerConfig returns the configuration used for each kind:
// parse and generation requeue stuck tasks after a threshold sized to the
// external call's timeout, match fails them instead.
func DefaultSchedulerConfig(kind Kind) SchedulerConfig {
	cfg := SchedulerConfig{
		Kind:               kind,
		PollInterval:       60 * time.Second,
		StoreErrorCooldown: 30 * time.Second,
	}
	switch kind {
	case KindParse:
		cfg.StuckAfter = 10 * time.Minute
		cfg.Recovery = RecoverRequeue
	case KindGeneration:
		cfg.StuckAfter = 5 * time.Minute
		cfg.Recovery = RecoverRequeue
	case KindMatch:
		cfg.StuckAfter = 30 * time.Minute
		cfg.Recovery = RecoverFail
	}
	return cfg
}

// Scheduler drives one queue kind: on a fixed interval it reclaims stuck
// tasks, claims due pending tasks and dispatches them without blocking the
// tick. Dispatched tasks run to completion independently of later ticks;
// overlap is accepted because the conditional RUNNING claim prevents a
// not-yet-finished task from being claimed again.
type Scheduler struct {
	ledger  Ledger
	exec    Executor
	cfg     SchedulerConfig
	logger  *slog.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	lastStoreErrLog time.Time
}

// NewScheduler creates a Scheduler for one kind. collector may be nil.
func NewScheduler(ledger Ledger, exec Executor, cfg SchedulerConfig, logger *slog.Logger, collector *metrics.Collector) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.StoreErrorCooldown <= 0 {
		cfg.StoreErrorCooldown = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		ledger:  ledger,
		exec:    exec,
		cfg:     cfg,
		logger:  logger.With("component", "scheduler", "kind", cfg.Kind),
		metrics: collector,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start arms the poll loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("scheduler started", "poll_interval", s.cfg.PollInterval)
}

// Stop cancels the poll loop and in-flight executions, then waits for them
// to settle. A RUNNING record whose execution was cut short by shutdown is
// picked up by the staleness sweep after restart.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick runs one poll cycle: staleness sweep, due-task claim, dispatch.
// Transient store errors are logged at a throttled rate and retried next
// tick; they never mark tasks failed.
func (s *Scheduler) Tick(ctx context.Context) {
	s.metrics.RecordTick(string(s.cfg.Kind))

	s.sweepStuck(ctx)

	due, err := s.ledger.ClaimDue(ctx, time.Now().UTC())
	if err != nil {
		s.logStoreError("claim_due", err)
		return
	}

	for _, rec := range due {
		s.Dispatch(rec)
	}
}

// sweepStuck applies the kind's recovery action to RUNNING records whose
// last update exceeds the staleness threshold.
func (s *Scheduler) sweepStuck(ctx context.Context) {
	var (
		n      int64
		err    error
		action string
	)

	switch s.cfg.Recovery {
	case RecoverFail:
		action = "fail"
		reason := fmt.Sprintf("task stuck in running state for over %s, presumed abandoned by a crashed execution", s.cfg.StuckAfter)
		n, err = s.ledger.ResetStuckToFailed(ctx, s.cfg.StuckAfter, reason)
	default:
		action = "requeue"
		n, err = s.ledger.ResetStuckToPending(ctx, s.cfg.StuckAfter)
	}

	if err != nil {
		s.logStoreError("sweep_stuck", err)
		return
	}

	if n > 0 {
		s.metrics.RecordStuckRecovered(string(s.cfg.Kind), action, n)
		s.logger.Warn("recovered stuck tasks", "count", n, "action", action, "older_than", s.cfg.StuckAfter)
	}
}

// Dispatch asynchronously claims the record and executes it. Returns
// immediately; the claim is conditional, so a record another scheduler (or
// a run-now request) got to first is silently skipped.
func (s *Scheduler) Dispatch(rec *Record) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.ledger.MarkRunning(s.ctx, rec.ID); err != nil {
			if errors.Is(err, ErrTaskConflict) {
				// Another scheduler or a run-now request won the claim.
				s.logger.Debug("task already claimed", "task_id", rec.ID)
				return
			}
			s.logStoreError("mark_running", err)
			return
		}
		s.metrics.RecordTransition(string(s.cfg.Kind), string(StatusRunning))
		s.run(rec)
	}()
}

// ExecuteClaimed runs an already-RUNNING record asynchronously. Used by the
// run-now path, which performs the conditional claim itself so it can
// report conflicts synchronously.
func (s *Scheduler) ExecuteClaimed(rec *Record) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(rec)
	}()
}

// run executes the kind-specific routine and records the terminal status.
// No error escapes: a panic in one task's execution must not prevent other
// tasks or future ticks from running.
func (s *Scheduler) run(rec *Record) {
	log := s.logger.With("task_id", rec.ID)
	start := time.Now()
	s.metrics.TaskStarted(string(s.cfg.Kind))
	defer func() {
		s.metrics.TaskFinished(string(s.cfg.Kind), time.Since(start))
		if r := recover(); r != nil {
			log.Error("task execution panicked", "panic", r)
			s.markFailed(rec, fmt.Sprintf("internal error: %v", r))
		}
	}()

	log.Info("executing task")

	result, err := s.exec.Execute(s.ctx, rec)
	if err != nil {
		log.Error("task execution failed", "error", err)
		s.markFailed(rec, err.Error())
		return
	}

	// Terminal writes use a fresh context so a completed task is still
	// recorded when shutdown cancelled the scheduler context.
	if err := s.ledger.MarkCompleted(context.Background(), rec.ID, result); err != nil {
		log.Error("failed to mark task completed", "error", err)
		return
	}
	s.metrics.RecordTransition(string(s.cfg.Kind), string(StatusCompleted))
	log.Info("task completed", "duration", time.Since(start))
}

func (s *Scheduler) markFailed(rec *Record, msg string) {
	if err := s.ledger.MarkFailed(context.Background(), rec.ID, msg); err != nil {
		s.logger.Error("failed to mark task failed", "task_id", rec.ID, "error", err)
		return
	}
	s.metrics.RecordTransition(string(s.cfg.Kind), string(StatusFailed))
}

// logStoreError logs a transient infrastructure error at most once per
// cooldown window. The tick simply retries next interval.
func (s *Scheduler) logStoreError(op string, err error) {
	s.metrics.RecordStoreError(string(s.cfg.Kind))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastStoreErrLog) < s.cfg.StoreErrorCooldown {
		return
	}
	s.lastStoreErrLog = now
	s.logger.Warn("task store unavailable, will retry next tick", "op", op, "error", err)
}
