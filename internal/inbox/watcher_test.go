package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/logging"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

type fakeAnswerer struct {
	mu    sync.Mutex
	calls map[string]map[string]string
	err   error
}

func (f *fakeAnswerer) Answer(_ context.Context, taskID string, answers map[string]string) (*engine.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]map[string]string)
	}
	f.calls[taskID] = answers
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Outcome{Task: &taskstate.TaskInstance{TaskID: taskID, Status: taskstate.StatusCompleted}}, nil
}

func (f *fakeAnswerer) answers(taskID string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[taskID]
}

func startWatcher(t *testing.T, dir string, eng Answerer, opts ...Option) *Watcher {
	t.Helper()
	w, err := New(dir, eng, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func waitResult(t *testing.T, w *Watcher) Result {
	t.Helper()
	select {
	case r := <-w.Results():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbox result")
		return Result{}
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", &fakeAnswerer{})
	assert.Error(t, err)

	_, err = New(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestTaskIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		id   string
		ok   bool
	}{
		{"/inbox/task-1.json", "task-1", true},
		{"/inbox/.tmp-task-1.json-123", "", false},
		{"/inbox/.hidden.json", "", false},
		{"/inbox/task-1.txt", "", false},
		{"/inbox/.json", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, ok := TaskIDFromPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestWatcher_AppliesDroppedAnswers(t *testing.T) {
	dir := t.TempDir()
	eng := &fakeAnswerer{}
	w := startWatcher(t, dir, eng)

	answers := map[string]string{engine.QuestionAction: engine.AnswerRetry, engine.QuestionGuidance: "narrow it"}
	_, err := Drop(dir, "task-1", answers)
	require.NoError(t, err)

	r := waitResult(t, w)
	require.NoError(t, r.Err)
	assert.Equal(t, "task-1", r.TaskID)
	assert.Equal(t, taskstate.StatusCompleted, r.Outcome.Task.Status)
	assert.Equal(t, answers, eng.answers("task-1"))

	assert.Empty(t, listDir(t, dir))
	processed := listDir(t, filepath.Join(dir, processedDir))
	require.Len(t, processed, 1)
	assert.Regexp(t, `^task-1\.\d+\.json$`, processed[0])
}

func TestWatcher_AppliesFilesPresentAtStart(t *testing.T) {
	dir := t.TempDir()
	_, err := Drop(dir, "early", map[string]string{engine.QuestionAction: engine.AnswerAbort})
	require.NoError(t, err)

	eng := &fakeAnswerer{}
	w := startWatcher(t, dir, eng)

	r := waitResult(t, w)
	require.NoError(t, r.Err)
	assert.Equal(t, "early", r.TaskID)
	assert.Equal(t, engine.AnswerAbort, eng.answers("early")[engine.QuestionAction])
}

func TestWatcher_RejectsEngineError(t *testing.T) {
	dir := t.TempDir()
	tl := logging.NewTestLogger()
	eng := &fakeAnswerer{err: engine.ErrNotWaiting}
	w := startWatcher(t, dir, eng, WithLogger(tl.Logger))

	_, err := Drop(dir, "task-2", map[string]string{engine.QuestionAction: engine.AnswerRetry})
	require.NoError(t, err)

	r := waitResult(t, w)
	require.ErrorIs(t, r.Err, engine.ErrNotWaiting)

	failed := listDir(t, filepath.Join(dir, failedDir))
	assert.Len(t, failed, 2)
	note, err := os.ReadFile(filepath.Join(dir, failedDir, "task-2.err"))
	require.NoError(t, err)
	assert.Contains(t, string(note), "not waiting")
	tl.AssertLogged(t, zap.WarnLevel, "inbox answers rejected")
}

func TestWatcher_RejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	eng := &fakeAnswerer{}
	w := startWatcher(t, dir, eng)

	tmp := filepath.Join(dir, ".staging")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"answers": {}}`), 0o600))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "task-3.json")))

	r := waitResult(t, w)
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "no answers")
	assert.Nil(t, eng.answers("task-3"))
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	eng := &fakeAnswerer{}
	w := startWatcher(t, dir, eng)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))
	_, err := Drop(dir, "task-4", map[string]string{engine.QuestionAction: engine.AnswerContinue})
	require.NoError(t, err)

	r := waitResult(t, w)
	assert.Equal(t, "task-4", r.TaskID)
	assert.Contains(t, listDir(t, dir), "notes.txt")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), &fakeAnswerer{})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestDrop_Validation(t *testing.T) {
	dir := t.TempDir()

	_, err := Drop(dir, "a/b", map[string]string{"action": "retry"})
	require.ErrorIs(t, err, taskstate.ErrInvalidTaskID)

	_, err = Drop(dir, "task", nil)
	require.Error(t, err)

	path, err := Drop(dir, "task", map[string]string{"action": "retry"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "task.json"), path)
}
