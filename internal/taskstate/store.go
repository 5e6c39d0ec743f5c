package taskstate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is versioned, crash-safe persistence of task progress.
type Store interface {
	// Load returns a copy of the stored instance or ErrNotFound.
	Load(ctx context.Context, taskID string) (*TaskInstance, error)

	// Create stores inst at version 0 or returns ErrAlreadyExists.
	Create(ctx context.Context, inst *TaskInstance) error

	// Commit stores inst when the stored version equals expectedVersion.
	// On success inst.Version becomes expectedVersion+1; otherwise the
	// error wraps ErrVersionConflict and nothing is written.
	Commit(ctx context.Context, inst *TaskInstance, expectedVersion int64) error

	// List returns every stored instance ordered by task id.
	List(ctx context.Context) ([]*TaskInstance, error)

	// Close releases backend resources.
	Close() error
}

// MemoryStore is an in-process Store. Instances are copied in and out.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*TaskInstance
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*TaskInstance), now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, taskID string) (*TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return inst.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, inst *TaskInstance) error {
	if err := ValidateTaskID(inst.TaskID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[inst.TaskID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, inst.TaskID)
	}
	stampCreate(inst, s.now())
	s.tasks[inst.TaskID] = inst.Clone()
	return nil
}

func (s *MemoryStore) Commit(_ context.Context, inst *TaskInstance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tasks[inst.TaskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, inst.TaskID)
	}
	if stored.Version != expectedVersion {
		return conflict(inst.TaskID, expectedVersion, stored.Version)
	}
	next := inst.Clone()
	stampCommit(next, expectedVersion, s.now())
	s.tasks[inst.TaskID] = next
	inst.Version = next.Version
	inst.UpdatedAt = next.UpdatedAt
	inst.Archived = next.Archived
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TaskInstance, 0, len(s.tasks))
	for _, inst := range s.tasks {
		out = append(out, inst.Clone())
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func stampCreate(inst *TaskInstance, now time.Time) {
	inst.Version = 0
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
}

func stampCommit(inst *TaskInstance, expectedVersion int64, now time.Time) {
	inst.Version = expectedVersion + 1
	inst.UpdatedAt = now
	if inst.Status.IsTerminal() {
		inst.Archived = true
	}
}

func sortByID(tasks []*TaskInstance) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })
}
