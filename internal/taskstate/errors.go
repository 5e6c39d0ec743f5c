package taskstate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a task has no stored state.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyExists is returned by Create for an existing task.
	ErrAlreadyExists = errors.New("task already exists")

	// ErrVersionConflict is returned when the stored version moved since the
	// caller loaded it. Callers reload and redecide.
	ErrVersionConflict = errors.New("task version conflict")

	// ErrInvalidTaskID is returned for ids unusable as storage keys.
	ErrInvalidTaskID = errors.New("invalid task id")
)

// ValidateTaskID rejects ids that cannot be used as file names or keys.
func ValidateTaskID(id string) error {
	if id == "" || len(id) > 128 || strings.ContainsAny(id, `/\ `) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return nil
}

func conflict(taskID string, expected, stored int64) error {
	return fmt.Errorf("%w: task %s expected version %d, stored %d", ErrVersionConflict, taskID, expected, stored)
}
