package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
)

// ArtifactStore is the artifact.Store view of a Store.
type ArtifactStore struct {
	s *Store
}

// Artifacts returns the artifact view of the database.
func (s *Store) Artifacts() *ArtifactStore {
	return &ArtifactStore{s: s}
}

func (a *ArtifactStore) Put(ctx context.Context, art *artifact.Artifact) error {
	if art.ID == "" {
		art.ID = uuid.New().String()
	}
	if err := artifact.ValidateID(art.ID); err != nil {
		return err
	}
	if art.Revision == 0 {
		art.Revision = 1
	}
	if art.Level == 0 {
		art.Level = artifact.LevelVerbatim
	}
	if art.ProducedAt.IsZero() {
		art.ProducedAt = a.s.now()
	}
	if art.TokenCount == 0 {
		art.TokenCount = art.Tokens()
	}
	if err := insertArtifact(ctx, a.s.db, art); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", artifact.ErrAlreadyExists, art.ID)
		}
		return err
	}
	return nil
}

func (a *ArtifactStore) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	return getArtifact(ctx, a.s.db, id)
}

func (a *ArtifactStore) Latest(ctx context.Context, id string) (*artifact.Artifact, error) {
	art, err := getArtifact(ctx, a.s.db, id)
	if err != nil {
		return nil, err
	}
	for art.SupersededBy != "" {
		next, err := getArtifact(ctx, a.s.db, art.SupersededBy)
		if err != nil {
			break
		}
		art = next
	}
	return art, nil
}

func (a *ArtifactStore) Derive(ctx context.Context, priorID string, derived *artifact.Artifact) error {
	tx, err := a.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prior, err := getArtifact(ctx, tx, priorID)
	if err != nil {
		return err
	}
	if prior.SupersededBy != "" {
		return fmt.Errorf("%w: %s superseded by %s", artifact.ErrArchived, prior.ID, prior.SupersededBy)
	}

	derived.ID = uuid.New().String()
	derived.TaskID = prior.TaskID
	derived.PhaseID = prior.PhaseID
	derived.WorkerRole = prior.WorkerRole
	derived.DerivedFrom = prior.ID
	derived.Revision = prior.Revision + 1
	derived.ProducedAt = a.s.now()
	derived.Archived = false
	derived.SupersededBy = ""
	if derived.Level == 0 {
		derived.Level = artifact.LevelVerbatim
	}
	if derived.TokenCount == 0 {
		derived.TokenCount = derived.Tokens()
	}
	if err := insertArtifact(ctx, tx, derived); err != nil {
		return err
	}

	prior.Archived = true
	prior.SupersededBy = derived.ID
	record, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("marshaling artifact: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE artifacts SET superseded_by = ?, record = ? WHERE id = ?",
		derived.ID, string(record), prior.ID,
	); err != nil {
		return fmt.Errorf("archiving artifact %s: %w", prior.ID, err)
	}
	return tx.Commit()
}

func (a *ArtifactStore) ListByTask(ctx context.Context, taskID string) ([]*artifact.Artifact, error) {
	rows, err := a.s.db.QueryContext(ctx,
		"SELECT record FROM artifacts WHERE task_id = ? ORDER BY produced_at, revision", taskID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []*artifact.Artifact
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		art, err := decodeArtifact(record)
		if err != nil {
			return nil, err
		}
		out = append(out, art)
	}
	return out, rows.Err()
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertArtifact(ctx context.Context, db execQuerier, art *artifact.Artifact) error {
	record, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("marshaling artifact: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO artifacts (id, task_id, phase_id, revision, level, superseded_by, produced_at, record)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		art.ID, art.TaskID, art.PhaseID, art.Revision, int(art.Level), art.ProducedAt.UnixNano(), string(record),
	)
	if err != nil {
		return fmt.Errorf("inserting artifact: %w", err)
	}
	return nil
}

func getArtifact(ctx context.Context, db execQuerier, id string) (*artifact.Artifact, error) {
	var record string
	err := db.QueryRowContext(ctx, "SELECT record FROM artifacts WHERE id = ?", id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading artifact %s: %w", id, err)
	}
	return decodeArtifact(record)
}

func decodeArtifact(record string) (*artifact.Artifact, error) {
	var art artifact.Artifact
	if err := json.Unmarshal([]byte(record), &art); err != nil {
		return nil, fmt.Errorf("decoding artifact record: %w", err)
	}
	return &art, nil
}
