package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skribblez2718/penny-sub000/internal/fsutil"
)

// FileStore keeps one JSON file per artifact revision under a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) read(id string) (*Artifact, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var a Artifact
	if err := fsutil.ReadJSON(s.path(id), &a); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return &a, nil
}

func (s *FileStore) Put(_ context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := prepare(a, s.now()); err != nil {
		return err
	}
	if _, err := os.Stat(s.path(a.ID)); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, a.ID)
	}
	return fsutil.WriteJSONAtomic(s.path(a.ID), a)
}

func (s *FileStore) Get(_ context.Context, id string) (*Artifact, error) {
	return s.read(id)
}

func (s *FileStore) Latest(_ context.Context, id string) (*Artifact, error) {
	a, err := s.read(id)
	if err != nil {
		return nil, err
	}
	for a.SupersededBy != "" {
		next, err := s.read(a.SupersededBy)
		if err != nil {
			break
		}
		a = next
	}
	return a, nil
}

// Derive writes the derived revision before marking the prior one, so a
// crash in between leaves the prior revision current.
func (s *FileStore) Derive(_ context.Context, priorID string, derived *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, err := s.read(priorID)
	if err != nil {
		return err
	}
	if err := derive(prior, derived, s.now()); err != nil {
		return err
	}
	if err := fsutil.WriteJSONAtomic(s.path(derived.ID), derived); err != nil {
		return err
	}
	prior.Archived = true
	prior.SupersededBy = derived.ID
	return fsutil.WriteJSONAtomic(s.path(prior.ID), prior)
}

func (s *FileStore) ListByTask(_ context.Context, taskID string) ([]*Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	var out []*Artifact
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		a, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	sortByProduced(out)
	return out, nil
}
