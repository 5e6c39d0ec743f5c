package taskstate

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

// FileStore keeps one JSON record per task. Commits replace the record with
// a write-temp-fsync-rename, serialized per task within the process.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex), now: time.Now}, nil
}

func (s *FileStore) lock(taskID string) func() {
	s.mu.Lock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *FileStore) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

func (s *FileStore) read(taskID string) (*TaskInstance, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	var inst TaskInstance
	if err := fsutil.ReadJSON(s.path(taskID), &inst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("read task %s: %w", taskID, err)
	}
	return &inst, nil
}

func (s *FileStore) Load(_ context.Context, taskID string) (*TaskInstance, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	unlock := s.lock(taskID)
	defer unlock()
	return s.read(taskID)
}

func (s *FileStore) Create(_ context.Context, inst *TaskInstance) error {
	if err := ValidateTaskID(inst.TaskID); err != nil {
		return err
	}
	unlock := s.lock(inst.TaskID)
	defer unlock()

	if _, err := os.Stat(s.path(inst.TaskID)); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, inst.TaskID)
	}
	stampCreate(inst, s.now())
	return fsutil.WriteJSONAtomic(s.path(inst.TaskID), inst)
}

func (s *FileStore) Commit(_ context.Context, inst *TaskInstance, expectedVersion int64) error {
	if err := ValidateTaskID(inst.TaskID); err != nil {
		return err
	}
	unlock := s.lock(inst.TaskID)
	defer unlock()

	stored, err := s.read(inst.TaskID)
	if err != nil {
		return err
	}
	if stored.Version != expectedVersion {
		return conflict(inst.TaskID, expectedVersion, stored.Version)
	}

	next := inst.Clone()
	stampCommit(next, expectedVersion, s.now())
	if err := fsutil.WriteJSONAtomic(s.path(inst.TaskID), next); err != nil {
		return fmt.Errorf("commit task %s: %w", inst.TaskID, err)
	}
	inst.Version = next.Version
	inst.UpdatedAt = next.UpdatedAt
	inst.Archived = next.Archived
	return nil
}

func (s *FileStore) List(_ context.Context) ([]*TaskInstance, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read task dir: %w", err)
	}
	var out []*TaskInstance
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		inst, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	sortByID(out)
	return out, nil
}

func (s *FileStore) Close() error { return nil }
