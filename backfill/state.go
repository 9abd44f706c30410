// Package backfill implements the resumable background jobs that embed
// pre-existing content not yet in the index. Jobs persist progress
// checkpoints so an interrupted run resumes where it left off.
package backfill

import (
	"context"
	"sync"
	"time"
)

// Job names, one persisted state row each.
const (
	JobConversations = "conversations"
	JobTraces        = "traces"
)

// Status is a backfill job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// State is the persisted progress of one backfill job. It exists only
// to support resume-on-interrupt.
type State struct {
	LastProcessedItemID string
	TotalItems          int
	ProcessedItems      int
	Status              Status
	StartedAt           time.Time
	CompletedAt         time.Time
	ErrorMessage        string
}

// StateStore persists backfill job state.
// Implementations: MemoryStateStore (tests), sqlite.Repository (durable).
type StateStore interface {
	// LoadState returns the saved state for a job, or nil when the job
	// has never run.
	LoadState(ctx context.Context, job string) (*State, error)

	// SaveState persists a job's state, replacing any previous row.
	SaveState(ctx context.Context, job string, state State) error
}

// Progress is what a job run reports back to its caller.
type Progress struct {
	Total     int
	Processed int
}

// MemoryStateStore is an in-memory StateStore for tests.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

// LoadState returns the saved state for a job, or nil when absent.
func (s *MemoryStateStore) LoadState(ctx context.Context, job string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[job]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// SaveState persists a job's state.
func (s *MemoryStateStore) SaveState(ctx context.Context, job string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[job] = state
	return nil
}
