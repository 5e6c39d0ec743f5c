package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
	"github.com/skribblez2718/penny-sub000/internal/taskstate/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "penny.db"))
	require.NoError(t, err)
	return s
}

func TestTaskStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) taskstate.Store {
		return openTemp(t)
	})
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "penny.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), taskstate.New("t1", "wf", "A", nil)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	got, err := s.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.CurrentPhaseID, "state survives reopen")
}

func TestArtifactStore(t *testing.T) {
	s := openTemp(t)
	defer s.Close()
	ctx := context.Background()
	arts := s.Artifacts()

	root := &artifact.Artifact{
		TaskID:  "t1",
		PhaseID: "B",
		Body:    "full body text",
		Quadrants: artifact.Quadrants{
			Open: "o", Hidden: "h", Blind: "b", Unknown: "u",
		},
	}
	require.NoError(t, arts.Put(ctx, root))
	assert.Equal(t, 1, root.Revision)
	assert.True(t, errors.Is(arts.Put(ctx, root), artifact.ErrAlreadyExists))

	derived := &artifact.Artifact{Body: "body", Level: artifact.LevelSummary}
	require.NoError(t, arts.Derive(ctx, root.ID, derived))
	assert.Equal(t, 2, derived.Revision)
	assert.Equal(t, "B", derived.PhaseID)

	prior, err := arts.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, prior.Archived)
	assert.Equal(t, "full body text", prior.Body)

	latest, err := arts.Latest(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, derived.ID, latest.ID)

	err = arts.Derive(ctx, root.ID, &artifact.Artifact{})
	assert.True(t, errors.Is(err, artifact.ErrArchived))

	list, err := arts.ListByTask(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, root.ID, list[0].ID)

	_, err = arts.Get(ctx, "missing")
	assert.True(t, errors.Is(err, artifact.ErrNotFound))
}
