// Package hooks runs lifecycle handlers for committed task events.
//
// A Manager is an engine.EventSink. Handlers are registered per event type
// (started, transition, escalated, answered, completed, aborted, skipped)
// and run in registration order after the engine commits the change. A
// failing handler never affects the task; its error is logged and returned
// to the engine, which treats sink errors as best effort.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/config"
	"github.com/skribblez2718/penny-sub000/internal/engine"
)

// Handler handles one event.
type Handler func(ctx context.Context, e engine.Event) error

// knownEvents lists the event types a hook may be bound to.
var knownEvents = map[engine.EventType]bool{
	engine.EventStarted:    true,
	engine.EventTransition: true,
	engine.EventSkipped:    true,
	engine.EventEscalated:  true,
	engine.EventAnswered:   true,
	engine.EventCompleted:  true,
	engine.EventAborted:    true,
}

// ErrUnknownEvent is returned when a hook names an event the engine never emits.
var ErrUnknownEvent = errors.New("unknown event type")

// Manager dispatches events to registered handlers.
type Manager struct {
	mu       sync.RWMutex
	handlers map[engine.EventType][]Handler
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[engine.EventType][]Handler),
		logger:   logger,
	}
}

// FromConfig builds a manager with one command handler per configured event.
func FromConfig(cfg config.HooksConfig, logger *zap.Logger) (*Manager, error) {
	m := NewManager(logger)
	for name, argv := range cfg.Commands {
		if err := m.Register(engine.EventType(name), Command(argv, cfg.Timeout.Duration())); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds handler for events of type t.
func (m *Manager) Register(t engine.EventType, handler Handler) error {
	if !knownEvents[t] {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, t)
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = append(m.handlers[t], handler)
	return nil
}

// Len returns the number of registered handlers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, hs := range m.handlers {
		n += len(hs)
	}
	return n
}

// Publish implements engine.EventSink. Every handler runs even when an
// earlier one fails.
func (m *Manager) Publish(ctx context.Context, e engine.Event) error {
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[e.Type]...)
	m.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			m.logger.Warn("hook failed",
				zap.String("event", string(e.Type)),
				zap.String("task_id", e.TaskID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("hook %s failed: %w", e.Type, err))
		}
	}
	return errors.Join(errs...)
}

// Command returns a handler that runs argv with the event as JSON on stdin.
// The event type and ids are also exported as PENNY_EVENT, PENNY_TASK_ID,
// PENNY_WORKFLOW_ID and PENNY_PHASE_ID.
func Command(argv []string, timeout time.Duration) Handler {
	return func(ctx context.Context, e engine.Event) error {
		if len(argv) == 0 {
			return errors.New("empty command")
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- operator-configured command
		cmd.Stdin = bytes.NewReader(payload)
		cmd.Env = append(os.Environ(),
			"PENNY_EVENT="+string(e.Type),
			"PENNY_TASK_ID="+e.TaskID,
			"PENNY_WORKFLOW_ID="+e.WorkflowID,
			"PENNY_PHASE_ID="+e.PhaseID,
		)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(out.String())
			if len(msg) > 512 {
				msg = msg[:512]
			}
			if msg != "" {
				return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
			}
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		return nil
	}
}

var _ engine.EventSink = (*Manager)(nil)
