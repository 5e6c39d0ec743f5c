package artifact

import (
	"fmt"
	"sort"
)

// UnknownStatus tracks an unknown through its forward-only lifecycle.
type UnknownStatus string

const (
	UnknownUnresolved UnknownStatus = "unresolved"
	UnknownInProgress UnknownStatus = "in_progress"
	UnknownResolved   UnknownStatus = "resolved"
	UnknownDeferred   UnknownStatus = "deferred"
)

var unknownTransitions = map[UnknownStatus][]UnknownStatus{
	UnknownUnresolved: {UnknownInProgress, UnknownResolved, UnknownDeferred},
	UnknownInProgress: {UnknownResolved, UnknownDeferred},
	UnknownResolved:   {},
	UnknownDeferred:   {},
}

// IsValid reports whether s is a known status.
func (s UnknownStatus) IsValid() bool {
	_, ok := unknownTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is forward.
// Staying in the same status is allowed.
func (s UnknownStatus) CanTransitionTo(next UnknownStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range unknownTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether the status still needs work.
func (s UnknownStatus) IsOpen() bool {
	return s == UnknownUnresolved || s == UnknownInProgress
}

// UnknownRecord is a question a phase could not answer.
type UnknownRecord struct {
	ID             string        `json:"id"`
	OriginPhase    string        `json:"origin_phase"`
	Description    string        `json:"description"`
	Status         UnknownStatus `json:"status"`
	ResolvingPhase string        `json:"resolving_phase,omitempty"`
}

// Ledger is the task-wide view of unknowns keyed by record id.
type Ledger map[string]UnknownRecord

// Apply merges rec into the ledger. A status regression is rejected and
// leaves the existing record in place.
func (l Ledger) Apply(rec UnknownRecord) error {
	prev, ok := l[rec.ID]
	if !ok {
		l[rec.ID] = rec
		return nil
	}
	if !prev.Status.CanTransitionTo(rec.Status) {
		return fmt.Errorf("%w: unknown %s %s -> %s", ErrStatusRegression, rec.ID, prev.Status, rec.Status)
	}
	if rec.OriginPhase == "" {
		rec.OriginPhase = prev.OriginPhase
	}
	if rec.Description == "" {
		rec.Description = prev.Description
	}
	if rec.ResolvingPhase == "" {
		rec.ResolvingPhase = prev.ResolvingPhase
	}
	l[rec.ID] = rec
	return nil
}

// Open returns open records sorted by id.
func (l Ledger) Open() []UnknownRecord {
	var open []UnknownRecord
	for _, rec := range l {
		if rec.Status.IsOpen() {
			open = append(open, rec)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open
}

// Clone returns a copy of l.
func (l Ledger) Clone() Ledger {
	if l == nil {
		return nil
	}
	c := make(Ledger, len(l))
	for k, v := range l {
		c[k] = v
	}
	return c
}
