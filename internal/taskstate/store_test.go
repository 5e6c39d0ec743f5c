package taskstate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skribblez2718/penny-sub000/internal/taskstate"
	"github.com/skribblez2718/penny-sub000/internal/taskstate/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) taskstate.Store {
		return taskstate.NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) taskstate.Store {
		s, err := taskstate.NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestTaskInstance_Clone(t *testing.T) {
	inst := taskstate.New("t1", "wf", "A", nil)
	inst.RecordArtifact("A", "a1")
	inst.PendingEscalation = &taskstate.Escalation{
		ID:        "e1",
		Questions: []taskstate.Question{{ID: "q1", Options: []string{"retry", "abort"}}},
	}

	c := inst.Clone()
	c.ArtifactRefs["A"][0] = "changed"
	c.PendingEscalation.Questions[0].Options[0] = "changed"
	c.Increment("A")

	assert.Equal(t, "a1", inst.ArtifactRefs["A"][0])
	assert.Equal(t, "retry", inst.PendingEscalation.Questions[0].Options[0])
	assert.Equal(t, 0, inst.Counter("A"))

	id, ok := inst.LatestArtifact("A")
	assert.True(t, ok)
	assert.Equal(t, "a1", id)
	_, ok = inst.LatestArtifact("B")
	assert.False(t, ok)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, taskstate.StatusCompleted.IsTerminal())
	assert.True(t, taskstate.StatusAborted.IsTerminal())
	assert.False(t, taskstate.StatusWaitingExternalInput.IsTerminal())
}
