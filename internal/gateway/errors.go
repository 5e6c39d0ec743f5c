package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed worker call.
type ErrorKind string

const (
	// KindTimeout means the call exceeded the gateway deadline.
	KindTimeout ErrorKind = "timeout"
	// KindSchema means the worker answered with something that is not a
	// valid artifact.
	KindSchema ErrorKind = "schema"
	// KindTransport means the worker could not be reached or exited badly.
	KindTransport ErrorKind = "transport"
	// KindWorker means the worker reported its own failure.
	KindWorker ErrorKind = "worker"
)

// ErrNoWorker is returned by New when no worker is configured.
var ErrNoWorker = errors.New("no worker configured")

// WorkerError is a recoverable failure of one worker call. The engine turns
// it into a degenerate result rather than failing the task.
type WorkerError struct {
	Kind    ErrorKind
	PhaseID string
	Err     error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s error in phase %s: %v", e.Kind, e.PhaseID, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// AsWorkerError returns the WorkerError in err's chain, if any.
func AsWorkerError(err error) (*WorkerError, bool) {
	var we *WorkerError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

func parseKind(s string) ErrorKind {
	switch k := ErrorKind(s); k {
	case KindTimeout, KindSchema, KindTransport, KindWorker:
		return k
	}
	return KindWorker
}
