package engine

import (
	"context"
	"sync"
	"time"

	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// EventType names an engine event.
type EventType string

const (
	EventStarted    EventType = "started"
	EventTransition EventType = "transition"
	EventSkipped    EventType = "skipped"
	EventEscalated  EventType = "escalated"
	EventAnswered   EventType = "answered"
	EventCompleted  EventType = "completed"
	EventAborted    EventType = "aborted"
)

// Event describes one committed change of a task.
type Event struct {
	Type       EventType             `json:"type"`
	TaskID     string                `json:"task_id"`
	WorkflowID string                `json:"workflow_id"`
	PhaseID    string                `json:"phase_id,omitempty"`
	NextPhase  string                `json:"next_phase,omitempty"`
	Status     taskstate.Status      `json:"status"`
	Version    int64                 `json:"version"`
	Verdict    string                `json:"verdict,omitempty"`
	Action     string                `json:"action,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	Escalation *taskstate.Escalation `json:"escalation,omitempty"`
	At         time.Time             `json:"at"`
}

// EventSink receives events after the commit they describe. Publishing is
// best effort; errors are logged and never fail the walk.
type EventSink interface {
	Publish(ctx context.Context, e Event) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }

// RecordingSink keeps events in memory. It is used in tests and by the CLI
// to print what happened during a walk.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements EventSink.
func (s *RecordingSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Types returns the recorded event types in order.
func (s *RecordingSink) Types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// MultiSink fans out to several sinks and returns the first error.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
