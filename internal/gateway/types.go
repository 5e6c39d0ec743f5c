package gateway

import (
	"context"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
)

// Request is the message sent to a worker for one phase invocation.
type Request struct {
	TaskID     string                `json:"task_id"`
	PhaseID    string                `json:"phase_id"`
	WorkerRole phasegraph.WorkerRole `json:"worker_role"`
	ContentRef string                `json:"content_ref,omitempty"`
	Attempt    int                   `json:"attempt"`

	// Payload is the resolved and compressed context. It is serialized as
	// JSON by transports that cross a process boundary.
	Payload any `json:"payload"`
}

// Response is the worker's answer: either an artifact or an error.
type Response struct {
	Artifact  *artifact.Artifact `json:"artifact,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
}

// Worker performs one call across the worker boundary. Implementations
// must honor ctx cancellation and must not retry on their own.
type Worker interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// FuncWorker adapts an in-process function to Worker.
type FuncWorker func(ctx context.Context, req Request) (Response, error)

// Call implements Worker.
func (f FuncWorker) Call(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
