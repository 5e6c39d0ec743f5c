package phasegraph

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	ErrNotFound          = errors.New("workflow not found")
	ErrDuplicateWorkflow = errors.New("workflow already registered")
	ErrPhaseNotFound     = errors.New("phase not found")
)

// ErrInvalidDefinition is the default cause of a ConfigurationError.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// ConfigurationError reports a defect in a workflow definition. It is fatal
// at registration and never retried at runtime.
type ConfigurationError struct {
	WorkflowID string
	PhaseID    string
	Reason     string

	// Err is the sentinel cause; nil means ErrInvalidDefinition.
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.PhaseID != "" {
		return fmt.Sprintf("configuration error: workflow %s phase %s: %s", e.WorkflowID, e.PhaseID, e.Reason)
	}
	return fmt.Sprintf("configuration error: workflow %s: %s", e.WorkflowID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidDefinition
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func configErr(workflowID, phaseID, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		WorkflowID: workflowID,
		PhaseID:    phaseID,
		Reason:     fmt.Sprintf(format, args...),
	}
}
