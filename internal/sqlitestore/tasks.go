package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

func (s *Store) Load(ctx context.Context, taskID string) (*taskstate.TaskInstance, error) {
	var record string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM tasks WHERE task_id = ?", taskID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", taskstate.ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}
	return decodeTask(record)
}

func (s *Store) Create(ctx context.Context, inst *taskstate.TaskInstance) error {
	if err := taskstate.ValidateTaskID(inst.TaskID); err != nil {
		return err
	}
	now := s.now()
	inst.Version = 0
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	record, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, workflow_id, status, current_phase, version, record, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		inst.TaskID, inst.WorkflowID, string(inst.Status), inst.CurrentPhaseID,
		string(record), inst.CreatedAt.UnixNano(), inst.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", taskstate.ErrAlreadyExists, inst.TaskID)
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, inst *taskstate.TaskInstance, expectedVersion int64) error {
	next := inst.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = s.now()
	if next.Status.IsTerminal() {
		next.Archived = true
	}

	record, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, current_phase = ?, version = ?, record = ?, updated_at = ?
		WHERE task_id = ? AND version = ?`,
		string(next.Status), next.CurrentPhaseID, next.Version, string(record), next.UpdatedAt.UnixNano(),
		next.TaskID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("committing task %s: %w", inst.TaskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("committing task %s: %w", inst.TaskID, err)
	}
	if n == 0 {
		var stored int64
		err := s.db.QueryRowContext(ctx, "SELECT version FROM tasks WHERE task_id = ?", inst.TaskID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", taskstate.ErrNotFound, inst.TaskID)
		}
		return fmt.Errorf("%w: task %s expected version %d, stored %d",
			taskstate.ErrVersionConflict, inst.TaskID, expectedVersion, stored)
	}

	inst.Version = next.Version
	inst.UpdatedAt = next.UpdatedAt
	inst.Archived = next.Archived
	return nil
}

func (s *Store) List(ctx context.Context) ([]*taskstate.TaskInstance, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT record FROM tasks ORDER BY task_id")
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []*taskstate.TaskInstance
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		inst, err := decodeTask(record)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func decodeTask(record string) (*taskstate.TaskInstance, error) {
	var inst taskstate.TaskInstance
	if err := json.Unmarshal([]byte(record), &inst); err != nil {
		return nil, fmt.Errorf("decoding task record: %w", err)
	}
	return &inst, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
