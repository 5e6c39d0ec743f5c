package http

import (
	"time"

	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// WorkflowsResponse is the response body for GET /api/v1/workflows.
type WorkflowsResponse struct {
	Workflows []string `json:"workflows"`
}

// StartRequest is the request body for POST /api/v1/tasks.
type StartRequest struct {
	WorkflowID string            `json:"workflow_id"`
	TaskID     string            `json:"task_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AnswerRequest is the request body for POST /api/v1/tasks/:id/answers.
type AnswerRequest struct {
	Answers map[string]string `json:"answers"`
}

// AbortRequest is the optional request body for POST /api/v1/tasks/:id/abort.
type AbortRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is returned for engine errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TaskListResponse is the response body for GET /api/v1/tasks.
type TaskListResponse struct {
	Tasks []TaskSummary `json:"tasks"`
}

// TaskSummary is one row of the task list.
type TaskSummary struct {
	TaskID         string           `json:"task_id"`
	WorkflowID     string           `json:"workflow_id"`
	CurrentPhaseID string           `json:"current_phase_id"`
	Status         taskstate.Status `json:"status"`
	Version        int64            `json:"version"`
	Escalated      bool             `json:"escalated"` // waiting on an answer
	UpdatedAt      time.Time        `json:"updated_at"`
}

func summarize(t *taskstate.TaskInstance) TaskSummary {
	return TaskSummary{
		TaskID:         t.TaskID,
		WorkflowID:     t.WorkflowID,
		CurrentPhaseID: t.CurrentPhaseID,
		Status:         t.Status,
		Version:        t.Version,
		Escalated:      t.PendingEscalation != nil,
		UpdatedAt:      t.UpdatedAt,
	}
}
