// Package impasse classifies a phase result as progress or one of four
// impasse kinds.
//
// Evaluation is read-only. The engine passes the verdict to the
// remediation dispatcher, which decides what to do about it.
package impasse

import (
	"github.com/skribblez2718/penny-sub000/internal/artifact"
)

// Type is the kind of impasse detected.
type Type string

const (
	None             Type = "none"
	Conflict         Type = "conflict"
	MissingKnowledge Type = "missing_knowledge"
	Tie              Type = "tie"
	NoChange         Type = "no_change"
)

// priority orders verdict types; lower wins.
var priority = map[Type]int{
	Conflict:         0,
	MissingKnowledge: 1,
	Tie:              2,
	NoChange:         3,
}

// Signal is one piece of impasse evidence with its confidence.
type Signal struct {
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// Verdict is the monitor's classification of one result.
type Verdict struct {
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`

	// Signals holds every detected signal, including those below the
	// confidence threshold.
	Signals []Signal `json:"signals,omitempty"`
}

// IsImpasse reports whether the verdict is anything other than None.
func (v Verdict) IsImpasse() bool {
	return v.Type != None && v.Type != ""
}

// History is the committed context a result is judged against.
type History struct {
	// Decisions are the decisions of earlier artifacts in the task.
	Decisions []artifact.Decision

	// Unknowns is the task-wide unknown ledger before this result.
	Unknowns artifact.Ledger

	// Previous is the same phase's prior attempt, if any.
	Previous *artifact.Artifact

	// MinOutputTokens is the phase's expected minimum output. 0 disables.
	MinOutputTokens int
}

// Config holds the classification thresholds.
type Config struct {
	ConfidenceThreshold float64
	DuplicateThreshold  float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{ConfidenceThreshold: 0.7, DuplicateThreshold: 0.9}
}
