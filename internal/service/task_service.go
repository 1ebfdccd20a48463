// Package service implements the application services that sit between the
// HTTP handlers and the task subsystem: enqueue operations with duplicate
// avoidance and daily-cutoff scheduling.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/events"
	"github.com/sjtutim/hrdb-sub001/internal/generation"
	"github.com/sjtutim/hrdb-sub001/internal/match"
	"github.com/sjtutim/hrdb-sub001/internal/parsing"
	"github.com/sjtutim/hrdb-sub001/internal/schedule"
	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// Enqueue validation errors.
var (
	// ErrNoFiles indicates a parse request without any file references.
	ErrNoFiles = errors.New("no files to parse")

	// ErrEmptyCandidateSet indicates a match request without candidates.
	ErrEmptyCandidateSet = errors.New("match request has no candidates")

	// ErrDuplicateTask indicates an active task already covers the
	// requested target.
	ErrDuplicateTask = errors.New("an active task already exists for this target")
)

// Ledgers resolves the durable store for each queue kind.
type Ledgers interface {
	Ledger(kind task.Kind) (task.Ledger, bool)
}

// TaskService creates task records. Non-immediate parse and match tasks are
// deferred to the next daily cutoff; generation tasks always run
// immediately.
type TaskService struct {
	ledgers      Ledgers
	jobs         store.JobStore
	candidates   store.CandidateStore
	emitter      events.EventEmitter
	cutoffHour   int
	cutoffMinute int
	location     *time.Location
	logger       *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewTaskService creates a TaskService. dailyRunAt is "HH:MM" wall-clock in
// the given timezone.
func NewTaskService(
	ledgers Ledgers,
	jobs store.JobStore,
	candidates store.CandidateStore,
	emitter events.EventEmitter,
	dailyRunAt string,
	timezone string,
	logger *slog.Logger,
) (*TaskService, error) {
	hour, minute, err := schedule.ParseDailyTime(dailyRunAt)
	if err != nil {
		return nil, err
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	return &TaskService{
		ledgers:      ledgers,
		jobs:         jobs,
		candidates:   candidates,
		emitter:      emitter,
		cutoffHour:   hour,
		cutoffMinute: minute,
		location:     location,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// ParseFile describes one uploaded document to parse.
type ParseFile struct {
	FileRef      string
	ContentType  string
	OriginalName string
}

// EnqueueParse creates one parse task per file, atomically. Files whose
// reference already has an active parse task are skipped; if every file is
// covered, ErrDuplicateTask is returned.
func (s *TaskService) EnqueueParse(ctx context.Context, files []ParseFile, immediate bool) ([]*task.Record, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	ledger, ok := s.ledgers.Ledger(task.KindParse)
	if !ok {
		return nil, fmt.Errorf("no ledger registered for kind %q", task.KindParse)
	}

	scheduledFor := s.scheduledFor(immediate)
	recs := make([]*task.Record, 0, len(files))
	for _, f := range files {
		if f.FileRef == "" {
			return nil, fmt.Errorf("%w: empty file reference", ErrNoFiles)
		}
		active, err := ledger.ActiveExistsForTarget(ctx, f.FileRef)
		if err != nil {
			return nil, fmt.Errorf("failed to check for active parse task: %w", err)
		}
		if active {
			s.logger.InfoContext(ctx, "skipping file with active parse task", "file_ref", f.FileRef)
			continue
		}

		payload, err := json.Marshal(parsing.Payload{
			FileRef:      f.FileRef,
			ContentType:  f.ContentType,
			OriginalName: f.OriginalName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal parse payload: %w", err)
		}
		recs = append(recs, task.NewRecord(task.KindParse, payload, scheduledFor))
	}
	if len(recs) == 0 {
		return nil, ErrDuplicateTask
	}

	if err := ledger.CreateBatch(ctx, recs); err != nil {
		return nil, err
	}
	s.emitCreated(ctx, recs, immediate)
	return recs, nil
}

// EnqueueMatch creates a match task for the job against the candidate set.
// An absent candidate set resolves to every candidate on file; a resolved
// set that is still empty is rejected.
func (s *TaskService) EnqueueMatch(ctx context.Context, jobID uuid.UUID, candidateIDs []uuid.UUID, immediate bool) (*task.Record, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}

	if len(candidateIDs) == 0 {
		resolved, err := s.candidates.ListIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve candidate set: %w", err)
		}
		candidateIDs = resolved
	}
	if len(candidateIDs) == 0 {
		return nil, ErrEmptyCandidateSet
	}

	ledger, ok := s.ledgers.Ledger(task.KindMatch)
	if !ok {
		return nil, fmt.Errorf("no ledger registered for kind %q", task.KindMatch)
	}

	active, err := ledger.ActiveExistsForTarget(ctx, jobID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to check for active match task: %w", err)
	}
	if active {
		return nil, fmt.Errorf("%w: job %s", ErrDuplicateTask, jobID)
	}

	payload, err := json.Marshal(match.Payload{JobID: jobID, CandidateIDs: candidateIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match payload: %w", err)
	}

	rec := task.NewRecord(task.KindMatch, payload, s.scheduledFor(immediate))
	if err := ledger.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.emitCreated(ctx, []*task.Record{rec}, immediate)
	return rec, nil
}

// EnqueueGeneration creates a generation task. Generation is interactive
// and always runs immediately.
func (s *TaskService) EnqueueGeneration(ctx context.Context, template string, inputs map[string]string) (*task.Record, error) {
	// Render up front so a bad template or missing input fails the request
	// instead of the task.
	if _, err := generation.RenderPrompt(template, inputs); err != nil {
		return nil, err
	}

	ledger, ok := s.ledgers.Ledger(task.KindGeneration)
	if !ok {
		return nil, fmt.Errorf("no ledger registered for kind %q", task.KindGeneration)
	}

	payload, err := json.Marshal(generation.Payload{Template: template, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation payload: %w", err)
	}

	rec := task.NewRecord(task.KindGeneration, payload, nil)
	if err := ledger.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.emitCreated(ctx, []*task.Record{rec}, true)
	return rec, nil
}

// scheduledFor returns nil for immediate tasks, otherwise the next daily
// cutoff in UTC.
func (s *TaskService) scheduledFor(immediate bool) *time.Time {
	if immediate {
		return nil
	}
	next := schedule.NextDailyRun(s.now(), s.cutoffHour, s.cutoffMinute, s.location).UTC()
	return &next
}

func (s *TaskService) emitCreated(ctx context.Context, recs []*task.Record, immediate bool) {
	if s.emitter == nil {
		return
	}
	for _, rec := range recs {
		event := events.NewTaskCreatedEvent(rec.Kind, rec.ID, immediate)
		if err := s.emitter.EmitEvent(ctx, event); err != nil {
			// The record is durable; the poll loop will pick it up.
			s.logger.WarnContext(ctx, "failed to emit task created event",
				"task_id", rec.ID,
				"kind", rec.Kind,
				"error", err)
		}
	}
}
