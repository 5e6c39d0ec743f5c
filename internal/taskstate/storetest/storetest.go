// Package storetest holds behavior tests shared by every taskstate.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// Run exercises a Store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) taskstate.Store) {
	t.Run("CreateLoad", func(t *testing.T) { testCreateLoad(t, newStore(t)) })
	t.Run("CommitAdvancesVersion", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("StaleCommitConflicts", func(t *testing.T) { testStale(t, newStore(t)) })
	t.Run("ConcurrentCommitsOneWinner", func(t *testing.T) { testConcurrent(t, newStore(t)) })
	t.Run("TerminalArchives", func(t *testing.T) { testTerminal(t, newStore(t)) })
	t.Run("ListSorted", func(t *testing.T) { testList(t, newStore(t)) })
}

func sample(id string) *taskstate.TaskInstance {
	inst := taskstate.New(id, "research-flow", "A", map[string]string{"depth": "deep"})
	inst.RecordArtifact("A", "art-1")
	inst.Increment("B")
	inst.Unknowns["u1"] = artifact.UnknownRecord{ID: "u1", OriginPhase: "A", Description: "vendor", Status: artifact.UnknownUnresolved}
	return inst
}

func testCreateLoad(t *testing.T, s taskstate.Store) {
	ctx := context.Background()
	defer s.Close()

	_, err := s.Load(ctx, "t1")
	assert.True(t, errors.Is(err, taskstate.ErrNotFound))

	inst := sample("t1")
	require.NoError(t, s.Create(ctx, inst))
	assert.Equal(t, int64(0), inst.Version)

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.CurrentPhaseID)
	assert.Equal(t, taskstate.StatusRunning, got.Status)
	assert.Equal(t, []string{"art-1"}, got.ArtifactRefs["A"])
	assert.Equal(t, 1, got.Counter("B"))
	assert.Equal(t, "deep", got.Metadata["depth"])
	assert.Equal(t, "vendor", got.Unknowns["u1"].Description)
	assert.False(t, got.CreatedAt.IsZero())

	got.CurrentPhaseID = "mutated"
	again, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "A", again.CurrentPhaseID, "loaded copies are independent")

	assert.True(t, errors.Is(s.Create(ctx, sample("t1")), taskstate.ErrAlreadyExists))
	assert.True(t, errors.Is(s.Create(ctx, sample("../etc")), taskstate.ErrInvalidTaskID))
}

func testCommit(t *testing.T, s taskstate.Store) {
	ctx := context.Background()
	defer s.Close()
	require.NoError(t, s.Create(ctx, sample("t1")))

	inst, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	inst.CurrentPhaseID = "B"
	inst.Stage = "transitioning"
	require.NoError(t, s.Commit(ctx, inst, 0))
	assert.Equal(t, int64(1), inst.Version)

	inst.CurrentPhaseID = "C"
	require.NoError(t, s.Commit(ctx, inst, 1))

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "C", got.CurrentPhaseID)

	missing := sample("nope")
	assert.True(t, errors.Is(s.Commit(ctx, missing, 0), taskstate.ErrNotFound))
}

func testStale(t *testing.T, s taskstate.Store) {
	ctx := context.Background()
	defer s.Close()
	require.NoError(t, s.Create(ctx, sample("t1")))

	a, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	b, err := s.Load(ctx, "t1")
	require.NoError(t, err)

	a.CurrentPhaseID = "B"
	require.NoError(t, s.Commit(ctx, a, a.Version))

	b.CurrentPhaseID = "Z"
	err = s.Commit(ctx, b, b.Version)
	require.Error(t, err)
	assert.True(t, errors.Is(err, taskstate.ErrVersionConflict))
	assert.Equal(t, int64(0), b.Version, "loser is not advanced")

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "B", got.CurrentPhaseID, "no silent overwrite")
}

func testConcurrent(t *testing.T, s taskstate.Store) {
	ctx := context.Background()
	defer s.Close()
	require.NoError(t, s.Create(ctx, sample("t1")))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		winner    string
	)
	for i := 0; i < writers; i++ {
		inst, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		inst.CurrentPhaseID = fmt.Sprintf("P%d", i)

		wg.Add(1)
		go func(inst *taskstate.TaskInstance) {
			defer wg.Done()
			err := s.Commit(ctx, inst, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
				winner = inst.CurrentPhaseID
			case errors.Is(err, taskstate.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(inst)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, winner, got.CurrentPhaseID)
}

func testTerminal(t *testing.T, s taskstate.Store) {
	ctx := context.Background()
	defer s.Close()
	inst := sample("t1")
	require.NoError(t, s.Create(ctx, inst))

	inst.Status = taskstate.StatusAborted
	inst.AbortReason = "operator request"
	require.NoError(t, s.Commit(ctx, inst, 0))
	assert.True(t, inst.Archived)

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.Equal(t, "operator request", got.AbortReason)
}

func testList(t *testing.T, s taskstate.Store) {
	ctx := context.Background()
	defer s.Close()
	for _, id := range []string{"t3", "t1", "t2"} {
		require.NoError(t, s.Create(ctx, sample(id)))
	}
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "t1", list[0].TaskID)
	assert.Equal(t, "t3", list[2].TaskID)
}
