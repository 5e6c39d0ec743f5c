// Package artifact defines the structured output of a phase invocation and
// the stores that keep it.
//
// Artifacts are append-only. Compression never edits one in place; it writes
// a derived revision and marks the prior revision archived.
package artifact

import (
	"time"

	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
)

// Quadrant names one of the four bounded summary fields.
type Quadrant string

const (
	QuadrantOpen    Quadrant = "open"
	QuadrantHidden  Quadrant = "hidden"
	QuadrantBlind   Quadrant = "blind"
	QuadrantUnknown Quadrant = "unknown"
)

// AllQuadrants lists quadrants in their canonical order.
var AllQuadrants = []Quadrant{QuadrantOpen, QuadrantHidden, QuadrantBlind, QuadrantUnknown}

// Quadrants carries the four bounded summaries of an artifact.
type Quadrants struct {
	Open    string `json:"open"`
	Hidden  string `json:"hidden"`
	Blind   string `json:"blind"`
	Unknown string `json:"unknown"`
}

// Get returns the text of quadrant q.
func (q Quadrants) Get(which Quadrant) string {
	switch which {
	case QuadrantOpen:
		return q.Open
	case QuadrantHidden:
		return q.Hidden
	case QuadrantBlind:
		return q.Blind
	case QuadrantUnknown:
		return q.Unknown
	}
	return ""
}

// Set replaces the text of quadrant which.
func (q *Quadrants) Set(which Quadrant, text string) {
	switch which {
	case QuadrantOpen:
		q.Open = text
	case QuadrantHidden:
		q.Hidden = text
	case QuadrantBlind:
		q.Blind = text
	case QuadrantUnknown:
		q.Unknown = text
	}
}

// Constraint binds a decision until it is resolved.
type Constraint struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Resolved    bool   `json:"resolved"`
}

// Decision is a committed choice made by a phase.
type Decision struct {
	ID          string       `json:"id"`
	Statement   string       `json:"statement"`
	Rationale   string       `json:"rationale,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`
}

// Bound reports whether any constraint on the decision is unresolved.
func (d Decision) Bound() bool {
	for _, c := range d.Constraints {
		if !c.Resolved {
			return true
		}
	}
	return false
}

// Option is one alternative enumerated by a phase. Rank 0 means unranked.
type Option struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Rank        int    `json:"rank,omitempty"`
}

// Truncation records a quadrant cut down to its configured maximum.
type Truncation struct {
	Quadrant       Quadrant `json:"quadrant"`
	OriginalTokens int      `json:"original_tokens"`
	KeptTokens     int      `json:"kept_tokens"`
}

// Level is the compression level of an artifact revision.
type Level int

const (
	LevelVerbatim Level = 1
	LevelSummary  Level = 2
	LevelResidue  Level = 3
)

// Artifact is the structured output of one phase invocation.
type Artifact struct {
	ID         string                `json:"id"`
	TaskID     string                `json:"task_id"`
	PhaseID    string                `json:"phase_id"`
	WorkerRole phasegraph.WorkerRole `json:"worker_role"`
	ProducedAt time.Time             `json:"produced_at"`
	Body       string                `json:"body"`
	Quadrants  Quadrants             `json:"quadrants"`
	TokenCount int                   `json:"token_count"`

	Decisions          []Decision      `json:"decisions,omitempty"`
	Contradicts        []string        `json:"contradicts,omitempty"`
	Unknowns           []UnknownRecord `json:"unknowns,omitempty"`
	MissingInformation []string        `json:"missing_information,omitempty"`
	Options            []Option        `json:"options,omitempty"`

	// RequiresRework asks a Remediation phase to follow its back-edge.
	RequiresRework bool `json:"requires_rework,omitempty"`
	// Continue asks an Iterative phase for another pass.
	Continue bool `json:"continue,omitempty"`
	// Degenerate marks a placeholder synthesized after a worker failure.
	Degenerate bool `json:"degenerate,omitempty"`

	Revision     int          `json:"revision"`
	Level        Level        `json:"level"`
	DerivedFrom  string       `json:"derived_from,omitempty"`
	SupersededBy string       `json:"superseded_by,omitempty"`
	Archived     bool         `json:"archived,omitempty"`
	Truncations  []Truncation `json:"truncations,omitempty"`
}

// Clone returns a deep copy of a.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	if a.Decisions != nil {
		c.Decisions = make([]Decision, len(a.Decisions))
		for i, d := range a.Decisions {
			c.Decisions[i] = d
			c.Decisions[i].Constraints = append([]Constraint(nil), d.Constraints...)
		}
	}
	c.Contradicts = append([]string(nil), a.Contradicts...)
	c.Unknowns = append([]UnknownRecord(nil), a.Unknowns...)
	c.MissingInformation = append([]string(nil), a.MissingInformation...)
	c.Options = append([]Option(nil), a.Options...)
	c.Truncations = append([]Truncation(nil), a.Truncations...)
	return &c
}

// Decision returns the decision with id.
func (a *Artifact) Decision(id string) (Decision, bool) {
	for _, d := range a.Decisions {
		if d.ID == id {
			return d, true
		}
	}
	return Decision{}, false
}
