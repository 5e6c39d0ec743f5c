package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/skribblez2718/penny-sub000/internal/config"
	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

func escalated() engine.Event {
	return engine.Event{
		Type:       engine.EventEscalated,
		TaskID:     "t1",
		WorkflowID: "review",
		PhaseID:    "draft",
		Status:     taskstate.StatusWaitingExternalInput,
		Version:    4,
		Reason:     "output unchanged across attempts",
	}
}

func TestManager_Register(t *testing.T) {
	m := NewManager(nil)

	err := m.Register("session_start", func(context.Context, engine.Event) error { return nil })
	require.ErrorIs(t, err, ErrUnknownEvent)

	require.Error(t, m.Register(engine.EventCompleted, nil))

	require.NoError(t, m.Register(engine.EventCompleted, func(context.Context, engine.Event) error { return nil }))
	require.NoError(t, m.Register(engine.EventAborted, func(context.Context, engine.Event) error { return nil }))
	assert.Equal(t, 2, m.Len())
}

func TestManager_PublishDispatchesByType(t *testing.T) {
	m := NewManager(nil)
	var got []string
	record := func(tag string) Handler {
		return func(_ context.Context, e engine.Event) error {
			got = append(got, tag+":"+e.TaskID)
			return nil
		}
	}
	require.NoError(t, m.Register(engine.EventEscalated, record("first")))
	require.NoError(t, m.Register(engine.EventEscalated, record("second")))
	require.NoError(t, m.Register(engine.EventCompleted, record("done")))

	require.NoError(t, m.Publish(context.Background(), escalated()))
	assert.Equal(t, []string{"first:t1", "second:t1"}, got)

	require.NoError(t, m.Publish(context.Background(), engine.Event{Type: engine.EventTransition, TaskID: "t1"}))
	assert.Len(t, got, 2)
}

func TestManager_PublishRunsAllHandlersOnFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := NewManager(zap.New(core))

	boom := errors.New("boom")
	ran := false
	require.NoError(t, m.Register(engine.EventEscalated, func(context.Context, engine.Event) error { return boom }))
	require.NoError(t, m.Register(engine.EventEscalated, func(context.Context, engine.Event) error {
		ran = true
		return nil
	}))

	err := m.Publish(context.Background(), escalated())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "hook escalated failed")
	assert.True(t, ran)

	entries := logs.FilterMessage("hook failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "t1", entries[0].ContextMap()["task_id"])
}

func TestCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	t.Run("receives event on stdin and env", func(t *testing.T) {
		dir := t.TempDir()
		out := filepath.Join(dir, "event.json")
		env := filepath.Join(dir, "env.txt")
		h := Command([]string{"sh", "-c", `cat > "$1"; echo "$PENNY_EVENT $PENNY_TASK_ID $PENNY_PHASE_ID" > "$2"`, "hook", out, env}, 5*time.Second)

		require.NoError(t, h(context.Background(), escalated()))

		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		var e engine.Event
		require.NoError(t, json.Unmarshal(raw, &e))
		assert.Equal(t, engine.EventEscalated, e.Type)
		assert.Equal(t, "output unchanged across attempts", e.Reason)

		vars, err := os.ReadFile(env)
		require.NoError(t, err)
		assert.Equal(t, "escalated t1 draft\n", string(vars))
	})

	t.Run("failure carries output", func(t *testing.T) {
		h := Command([]string{"sh", "-c", "echo nope >&2; exit 3"}, 5*time.Second)
		err := h(context.Background(), escalated())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("timeout", func(t *testing.T) {
		h := Command([]string{"sleep", "5"}, 50*time.Millisecond)
		start := time.Now()
		require.Error(t, h(context.Background(), escalated()))
		assert.Less(t, time.Since(start), 4*time.Second)
	})

	t.Run("empty command", func(t *testing.T) {
		require.Error(t, Command(nil, time.Second)(context.Background(), escalated()))
	})
}

func TestFromConfig(t *testing.T) {
	m, err := FromConfig(config.HooksConfig{
		Timeout:  config.Duration(time.Second),
		Commands: map[string][]string{"escalated": {"true"}, "completed": {"true"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	_, err = FromConfig(config.HooksConfig{
		Timeout:  config.Duration(time.Second),
		Commands: map[string][]string{"before_clear": {"true"}},
	}, nil)
	require.ErrorIs(t, err, ErrUnknownEvent)
}
