package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skribblez2718/penny-sub000/internal/config"
	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "penny.tasks.t1.escalated", Subject("penny", "t1", engine.EventEscalated))
}

func TestNewPublisher_RequiresConnection(t *testing.T) {
	_, err := NewPublisher(nil)
	assert.Error(t, err)
}

func TestPublish_DeliversEvent(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("test.tasks.>")
	require.NoError(t, err)

	p, err := NewPublisher(nc, WithPrefix("test"))
	require.NoError(t, err)

	ev := engine.Event{
		Type:       engine.EventTransition,
		TaskID:     "t1",
		WorkflowID: "wf",
		PhaseID:    "A",
		NextPhase:  "B",
		Status:     taskstate.StatusRunning,
		Version:    4,
		At:         time.Now().UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.NoError(t, p.Flush(time.Second))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test.tasks.t1.transition", msg.Subject)

	var got engine.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "B", got.NextPhase)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, taskstate.StatusRunning, got.Status)
}

func TestPublish_WildcardForEscalations(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("penny.tasks.*.escalated")
	require.NoError(t, err)

	p, err := NewPublisher(nc)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, engine.Event{Type: engine.EventTransition, TaskID: "a"}))
	require.NoError(t, p.Publish(ctx, engine.Event{Type: engine.EventEscalated, TaskID: "b"}))
	require.NoError(t, p.Flush(time.Second))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "penny.tasks.b.escalated", msg.Subject)

	_, err = sub.NextMsg(100 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestConnect_OwnsConnection(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(config.EventsConfig{Enabled: true, URL: server.ClientURL(), SubjectPrefix: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x.tasks.t.completed", p.Subject(engine.Event{Type: engine.EventCompleted, TaskID: "t"}))

	require.NoError(t, p.Close())
	require.Eventually(t, p.nc.IsClosed, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, p.Publish(context.Background(), engine.Event{Type: engine.EventCompleted, TaskID: "t"}), ErrClosed)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.EventsConfig{URL: "nats://127.0.0.1:1"}, nil)
	assert.Error(t, err)
}

func TestEngineSink(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p, err := NewPublisher(nc)
	require.NoError(t, err)
	rec := &engine.RecordingSink{}
	sink := engine.MultiSink{rec, p}

	sub, err := nc.SubscribeSync("penny.tasks.t.>")
	require.NoError(t, err)
	require.NoError(t, sink.Publish(context.Background(), engine.Event{Type: engine.EventStarted, TaskID: "t"}))
	require.NoError(t, p.Flush(time.Second))

	_, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []engine.EventType{engine.EventStarted}, rec.Types())
}
