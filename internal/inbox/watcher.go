// Package inbox applies escalation answers dropped as files.
//
// A file named <task-id>.json in the inbox directory holds the answers for
// that task's pending escalation:
//
//	{"answers": {"action": "retry", "guidance": "narrow the scope"}}
//
// Applied files move to processed/. Files that fail move to failed/ next to
// a .err file holding the reason. Names starting with "." are ignored so
// writers can stage a temp file and rename it into place.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/fsutil"
	"github.com/skribblez2718/penny-sub000/internal/logging"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
	fileSuffix   = ".json"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Answerer applies answers to a waiting task. *engine.Engine implements it.
type Answerer interface {
	Answer(ctx context.Context, taskID string, answers map[string]string) (*engine.Outcome, error)
}

// File is the content of an inbox file.
type File struct {
	Answers map[string]string `json:"answers"`
}

// Result reports one applied or rejected inbox file.
type Result struct {
	TaskID  string
	Path    string
	Outcome *engine.Outcome
	Err     error
}

// Watcher applies inbox files as they appear.
type Watcher struct {
	dir     string
	eng     Answerer
	logger  *logging.Logger
	watcher *fsnotify.Watcher
	results chan Result
	stop    chan struct{}
	done    chan struct{}
	now     func() time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher over dir, creating the directory if needed.
func New(dir string, eng Answerer, opts ...Option) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if eng == nil {
		return nil, errors.New("answerer is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		dir:     dir,
		eng:     eng,
		logger:  logging.NewNop(),
		watcher: fw,
		results: make(chan Result, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Results returns the channel of processed files. Results are dropped when
// nobody reads them.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Start applies files already in the inbox, then watches for new ones in a
// background goroutine. Call Stop to release the watcher.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching inbox: %w", err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading inbox: %w", err)
	}
	pending := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			pending = append(pending, filepath.Join(w.dir, e.Name()))
		}
	}

	go w.processEvents(ctx, pending)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close() // Best-effort cleanup, ignore error
	}
	<-w.done
}

func (w *Watcher) processEvents(ctx context.Context, pending []string) {
	defer close(w.done)

	for _, path := range pending {
		w.handle(ctx, path)
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handle(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "inbox watcher error", zap.Error(err))
		}
	}
}

// TaskIDFromPath returns the task id an inbox path addresses.
func TaskIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(base, fileSuffix)
	if taskstate.ValidateTaskID(id) != nil {
		return "", false
	}
	return id, true
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if filepath.Dir(path) != filepath.Clean(w.dir) {
		return
	}
	taskID, ok := TaskIDFromPath(path)
	if !ok {
		return
	}

	var f File
	if err := fsutil.ReadJSON(path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Already moved by an earlier event for the same file.
			return
		}
		w.reject(ctx, taskID, path, fmt.Errorf("read answers: %w", err))
		return
	}
	if len(f.Answers) == 0 {
		w.reject(ctx, taskID, path, errors.New("no answers in file"))
		return
	}

	ctx = logging.WithTask(ctx, taskID, "")
	out, err := w.eng.Answer(ctx, taskID, f.Answers)
	if err != nil {
		w.reject(ctx, taskID, path, err)
		return
	}

	if err := w.move(path, processedDir, taskID); err != nil {
		w.logger.Warn(ctx, "failed to archive inbox file", zap.String("path", path), zap.Error(err))
	}
	w.logger.Info(ctx, "applied inbox answers", zap.String("status", string(out.Task.Status)))
	w.publish(Result{TaskID: taskID, Path: path, Outcome: out})
}

func (w *Watcher) reject(ctx context.Context, taskID, path string, cause error) {
	w.logger.Warn(ctx, "inbox answers rejected", zap.String("task_id", taskID), zap.Error(cause))

	if err := w.move(path, failedDir, taskID); err != nil {
		w.logger.Warn(ctx, "failed to move rejected inbox file", zap.String("path", path), zap.Error(err))
	} else {
		errPath := filepath.Join(w.dir, failedDir, taskID+".err")
		_ = os.WriteFile(errPath, []byte(cause.Error()+"\n"), 0o600) //nolint:errcheck // best-effort note
	}
	w.publish(Result{TaskID: taskID, Path: path, Err: cause})
}

// move renames path into sub, suffixing the name with a timestamp so
// repeated answers for one task do not collide.
func (w *Watcher) move(path, sub, taskID string) error {
	dst := filepath.Join(w.dir, sub)
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%d%s", taskID, w.now().UnixNano(), fileSuffix)
	return os.Rename(path, filepath.Join(dst, name))
}

func (w *Watcher) publish(r Result) {
	select {
	case w.results <- r:
	default:
	}
}

// Drop writes answers for taskID into dir for a running watcher to apply.
func Drop(dir, taskID string, answers map[string]string) (string, error) {
	if err := taskstate.ValidateTaskID(taskID); err != nil {
		return "", err
	}
	if len(answers) == 0 {
		return "", errors.New("no answers to drop")
	}
	path := filepath.Join(dir, taskID+fileSuffix)
	if err := fsutil.WriteJSONAtomic(path, File{Answers: answers}); err != nil {
		return "", fmt.Errorf("write inbox file: %w", err)
	}
	return path, nil
}
