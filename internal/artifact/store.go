package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists artifacts and their derived revisions.
type Store interface {
	// Put appends a new artifact. Missing ids are generated.
	Put(ctx context.Context, a *Artifact) error

	// Get returns the revision with id.
	Get(ctx context.Context, id string) (*Artifact, error)

	// Latest follows derivations from id to the newest revision.
	Latest(ctx context.Context, id string) (*Artifact, error)

	// Derive stores derived as the successor of priorID and archives the
	// prior revision.
	Derive(ctx context.Context, priorID string, derived *Artifact) error

	// ListByTask returns every revision for a task ordered by production time.
	ListByTask(ctx context.Context, taskID string) ([]*Artifact, error)
}

// ValidateID rejects ids that cannot be used as storage keys.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// prepare fills generated fields on a new artifact.
func prepare(a *Artifact, now time.Time) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if err := ValidateID(a.ID); err != nil {
		return err
	}
	if a.Revision == 0 {
		a.Revision = 1
	}
	if a.Level == 0 {
		a.Level = LevelVerbatim
	}
	if a.ProducedAt.IsZero() {
		a.ProducedAt = now
	}
	if a.TokenCount == 0 {
		a.TokenCount = a.Tokens()
	}
	return nil
}

// derive fills the lineage fields of derived from prior.
func derive(prior, derived *Artifact, now time.Time) error {
	if prior.SupersededBy != "" {
		return fmt.Errorf("%w: %s superseded by %s", ErrArchived, prior.ID, prior.SupersededBy)
	}
	derived.ID = ""
	derived.TaskID = prior.TaskID
	derived.PhaseID = prior.PhaseID
	derived.WorkerRole = prior.WorkerRole
	derived.DerivedFrom = prior.ID
	derived.Revision = prior.Revision + 1
	derived.ProducedAt = time.Time{}
	derived.Archived = false
	derived.SupersededBy = ""
	return prepare(derived, now)
}

func sortByProduced(arts []*Artifact) {
	sort.SliceStable(arts, func(i, j int) bool {
		if arts[i].ProducedAt.Equal(arts[j].ProducedAt) {
			return arts[i].Revision < arts[j].Revision
		}
		return arts[i].ProducedAt.Before(arts[j].ProducedAt)
	})
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	arts map[string]*Artifact
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{arts: make(map[string]*Artifact), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := prepare(a, s.now()); err != nil {
		return err
	}
	if _, exists := s.arts[a.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, a.ID)
	}
	s.arts[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.arts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) Latest(_ context.Context, id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.arts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for a.SupersededBy != "" {
		next, ok := s.arts[a.SupersededBy]
		if !ok {
			break
		}
		a = next
	}
	return a.Clone(), nil
}

func (s *MemoryStore) Derive(_ context.Context, priorID string, derived *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.arts[priorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, priorID)
	}
	if err := derive(prior, derived, s.now()); err != nil {
		return err
	}
	s.arts[derived.ID] = derived.Clone()
	prior.Archived = true
	prior.SupersededBy = derived.ID
	return nil
}

func (s *MemoryStore) ListByTask(_ context.Context, taskID string) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Artifact
	for _, a := range s.arts {
		if a.TaskID == taskID {
			out = append(out, a.Clone())
		}
	}
	sortByProduced(out)
	return out, nil
}
