package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjtutim/hrdb-sub001/internal/store"
)

// MockLedger is an in-memory Ledger used in tests. It enforces the same
// status machine and conditional transitions as the Postgres store, and
// supports fault injection through the optional *Err fields.
type MockLedger struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record

	// Fault injection: when set, the corresponding operation fails.
	ClaimDueErr    error
	MarkRunningErr error
	ResetErr       error
	CreateErr      error
}

// NewMockLedger creates an empty MockLedger.
func NewMockLedger() *MockLedger {
	return &MockLedger{records: make(map[uuid.UUID]*Record)}
}

// Create implements Ledger.
func (m *MockLedger) Create(ctx context.Context, rec *Record) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

// CreateBatch implements Ledger.
func (m *MockLedger) CreateBatch(ctx context.Context, recs []*Record) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		cp := *rec
		m.records[rec.ID] = &cp
	}
	return nil
}

// GetByID implements Ledger.
func (m *MockLedger) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *rec
	return &cp, nil
}

// ClaimDue implements Ledger.
func (m *MockLedger) ClaimDue(ctx context.Context, now time.Time) ([]*Record, error) {
	if m.ClaimDueErr != nil {
		return nil, m.ClaimDueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*Record
	for _, rec := range m.records {
		if rec.Status != StatusPending {
			continue
		}
		if rec.ScheduledFor != nil && rec.ScheduledFor.After(now) {
			continue
		}
		cp := *rec
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due, nil
}

// MarkRunning implements Ledger with the conditional claim semantics.
func (m *MockLedger) MarkRunning(ctx context.Context, id uuid.UUID) error {
	if m.MarkRunningErr != nil {
		return m.MarkRunningErr
	}
	return m.transition(id, StatusPending, StatusRunning, func(rec *Record) {
		rec.ErrorMessage = ""
	})
}

// MarkCompleted implements Ledger.
func (m *MockLedger) MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	return m.transition(id, StatusRunning, StatusCompleted, func(rec *Record) {
		rec.Result = result
	})
}

// MarkFailed implements Ledger.
func (m *MockLedger) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return m.transition(id, StatusRunning, StatusFailed, func(rec *Record) {
		rec.ErrorMessage = errorMessage
	})
}

// Cancel implements Ledger.
func (m *MockLedger) Cancel(ctx context.Context, id uuid.UUID) error {
	return m.transition(id, StatusPending, StatusCancelled, nil)
}

// Delete implements Ledger.
func (m *MockLedger) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if rec.Status == StatusRunning {
		return ErrTaskRunning
	}
	delete(m.records, id)
	return nil
}

// UpdateProgress implements Ledger.
func (m *MockLedger) UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	rec.Processed = processed
	rec.Total = total
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetStuckToPending implements Ledger.
func (m *MockLedger) ResetStuckToPending(ctx context.Context, olderThan time.Duration) (int64, error) {
	if m.ResetErr != nil {
		return 0, m.ResetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var n int64
	for _, rec := range m.records {
		if rec.Status == StatusRunning && rec.UpdatedAt.Before(cutoff) {
			rec.Status = StatusPending
			rec.ErrorMessage = ""
			rec.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// ResetStuckToFailed implements Ledger.
func (m *MockLedger) ResetStuckToFailed(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	if m.ResetErr != nil {
		return 0, m.ResetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var n int64
	for _, rec := range m.records {
		if rec.Status == StatusRunning && rec.UpdatedAt.Before(cutoff) {
			rec.Status = StatusFailed
			rec.ErrorMessage = reason
			rec.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// ActiveExistsForTarget implements Ledger. The mock matches the target
// against the raw payload text, which is sufficient for tests.
func (m *MockLedger) ActiveExistsForTarget(ctx context.Context, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.Status != StatusPending && rec.Status != StatusRunning {
			continue
		}
		if containsJSONValue(rec.Payload, target) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockLedger) transition(id uuid.UUID, from, to Status, mutate func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if rec.Status != from || !from.CanTransitionTo(to) {
		return ErrTaskConflict
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(rec)
	}
	return nil
}

// Seed inserts a record verbatim, bypassing transition checks. Tests use it
// to construct arbitrary starting states (e.g. a stale RUNNING record).
func (m *MockLedger) Seed(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
}

// StatusOf returns the current status of a record.
func (m *MockLedger) StatusOf(id uuid.UUID) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

func containsJSONValue(payload json.RawMessage, target string) bool {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return false
	}
	for _, v := range decoded {
		if s, ok := v.(string); ok && s == target {
			return true
		}
	}
	return false
}
