package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultProgressTTL is how long a terminal progress entry stays queryable
// before the delayed cleanup drops it.
const DefaultProgressTTL = 30 * time.Minute

// ProgressStatus is the live state of an ephemeral progress entry.
type ProgressStatus string

// Ephemeral progress states. ProgressIdle is reported for keys with no
// entry; it is never stored.
const (
	ProgressIdle      ProgressStatus = "idle"
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// Progress is a point-in-time snapshot of one in-process task's progress.
type Progress struct {
	Status       ProgressStatus  `json:"status"`
	Total        int             `json:"total"`
	Processed    int             `json:"processed"`
	CurrentLabel string          `json:"current_label,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// ProgressStore is a process-local map from a target key (e.g. job id) to
// live progress counters, used so an interactively-waiting caller can poll
// progress without reading the ledger.
//
// It is strictly a cache for a single process's interactive callers and is
// never authoritative: entries vanish on restart and a fixed delay after
// terminal status. Durable truth lives in the ledger. Horizontal scaling
// requires either session stickiness or moving this cache into a shared
// low-latency store.
type ProgressStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Progress
	ttl     time.Duration
}

// NewProgressStore creates a ProgressStore whose terminal entries are
// dropped ttl after completion. A non-positive ttl uses the default.
func NewProgressStore(ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &ProgressStore{
		entries: make(map[uuid.UUID]*Progress),
		ttl:     ttl,
	}
}

// Begin creates (or resets) the entry for key at the start of a run.
func (s *ProgressStore) Begin(key uuid.UUID, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &Progress{Status: ProgressRunning, Total: total}
}

// Step records one item's worth of progress and the label of the item
// currently being worked on.
func (s *ProgressStore) Step(key uuid.UUID, processed int, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.entries[key]; ok {
		p.Processed = processed
		p.CurrentLabel = label
	}
}

// Finish marks the entry completed with its result payload and arms the
// delayed cleanup.
func (s *ProgressStore) Finish(key uuid.UUID, result json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.entries[key]; ok {
		p.Status = ProgressCompleted
		p.Result = result
		p.CurrentLabel = ""
		s.scheduleCleanupLocked(key)
	}
}

// Fail marks the entry failed with the given message and arms the delayed
// cleanup.
func (s *ProgressStore) Fail(key uuid.UUID, errorMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.entries[key]; ok {
		p.Status = ProgressFailed
		p.Error = errorMessage
		p.CurrentLabel = ""
		s.scheduleCleanupLocked(key)
	}
}

// Snapshot returns a copy of the entry for key. ok is false when no entry
// exists, which callers report as idle.
func (s *ProgressStore) Snapshot(key uuid.UUID) (Progress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[key]
	if !ok {
		return Progress{Status: ProgressIdle}, false
	}
	return *p, true
}

// scheduleCleanupLocked arms the delayed removal of a terminal entry.
// Caller must hold s.mu.
func (s *ProgressStore) scheduleCleanupLocked(key uuid.UUID) {
	time.AfterFunc(s.ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only drop the entry if it is still terminal; a re-run may have
		// replaced it in the meantime.
		if p, ok := s.entries[key]; ok && p.Status != ProgressRunning {
			delete(s.entries, key)
		}
	})
}
