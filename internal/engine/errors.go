package engine

import "errors"

var (
	// ErrImpasseExceeded marks an escalation forced by a retry ceiling.
	ErrImpasseExceeded = errors.New("impasse retry ceiling exceeded")

	// ErrAborted is returned by operations on an aborted task.
	ErrAborted = errors.New("task aborted")

	// ErrCompleted is returned by operations that need a live task.
	ErrCompleted = errors.New("task completed")

	// ErrTaskBusy is returned when another walk holds the task.
	ErrTaskBusy = errors.New("task is already being advanced")

	// ErrNotWaiting is returned by Answer when no escalation is pending.
	ErrNotWaiting = errors.New("task is not waiting for input")

	// ErrInvalidAnswer is returned when answers do not fit the questions.
	ErrInvalidAnswer = errors.New("invalid answer")

	// ErrWorkflowMismatch is returned by Start for an existing task bound
	// to another workflow.
	ErrWorkflowMismatch = errors.New("task belongs to another workflow")

	// ErrInvalidTransition is an engine defect: a state change outside
	// ValidTransitions.
	ErrInvalidTransition = errors.New("invalid state transition")
)
