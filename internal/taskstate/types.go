// Package taskstate persists per-task execution progress.
//
// Every write goes through Commit with the version the caller loaded. A
// store accepts the write only when that version is still current, so two
// writers racing on one task leave exactly one winner.
package taskstate

import (
	"time"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
)

// Status is the externally visible state of a task.
type Status string

const (
	StatusRunning              Status = "running"
	StatusWaitingWorker        Status = "waiting_worker"
	StatusWaitingExternalInput Status = "waiting_external_input"
	StatusCompleted            Status = "completed"
	StatusAborted              Status = "aborted"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Hop records a routed detour away from the declared successor.
type Hop struct {
	From     string               `json:"from"`
	To       string               `json:"to"`
	Route    phasegraph.RouteKind `json:"route"`
	Verdict  string               `json:"verdict"`
	ReturnTo string               `json:"return_to,omitempty"`
	At       time.Time            `json:"at"`
}

// Question is one item of an escalation. An empty Options list means the
// answer is free text.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options,omitempty"`
	AllowFreeText bool     `json:"allow_free_text"`
}

// Escalation is the structured question set raised when remediation is
// exhausted.
type Escalation struct {
	ID        string     `json:"id"`
	PhaseID   string     `json:"phase_id"`
	Reason    string     `json:"reason"`
	Questions []Question `json:"questions"`
	RaisedAt  time.Time  `json:"raised_at"`
}

// TaskInstance is the persisted progress of one task. Artifact bodies are
// referenced by id, never embedded.
type TaskInstance struct {
	TaskID         string `json:"task_id"`
	WorkflowID     string `json:"workflow_id"`
	CurrentPhaseID string `json:"current_phase_id"`
	Status         Status `json:"status"`

	// Stage is the last committed engine state.
	Stage   string `json:"stage"`
	Version int64  `json:"version"`

	RetryCounters map[string]int      `json:"retry_counters,omitempty"`
	ArtifactRefs  map[string][]string `json:"artifact_refs,omitempty"`
	History       []string            `json:"history,omitempty"`
	Hops          []Hop               `json:"hops,omitempty"`
	Unknowns      artifact.Ledger     `json:"unknowns,omitempty"`

	// ResumePhaseID is where execution returns after a routed detour.
	ResumePhaseID string `json:"resume_phase_id,omitempty"`

	PendingEscalation *Escalation       `json:"pending_escalation,omitempty"`
	Guidance          []string          `json:"guidance,omitempty"`
	AbortReason       string            `json:"abort_reason,omitempty"`
	LastVerdict       string            `json:"last_verdict,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Archived          bool              `json:"archived,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a running instance positioned at entryPhase.
func New(taskID, workflowID, entryPhase string, metadata map[string]string) *TaskInstance {
	inst := &TaskInstance{
		TaskID:         taskID,
		WorkflowID:     workflowID,
		CurrentPhaseID: entryPhase,
		Status:         StatusRunning,
		Stage:          "idle",
		RetryCounters:  make(map[string]int),
		ArtifactRefs:   make(map[string][]string),
		Unknowns:       make(artifact.Ledger),
		Metadata:       make(map[string]string, len(metadata)),
	}
	for k, v := range metadata {
		inst.Metadata[k] = v
	}
	return inst
}

// LatestArtifact returns the newest artifact id recorded for phaseID.
func (t *TaskInstance) LatestArtifact(phaseID string) (string, bool) {
	refs := t.ArtifactRefs[phaseID]
	if len(refs) == 0 {
		return "", false
	}
	return refs[len(refs)-1], true
}

// RecordArtifact appends id to the phase's refs and the task history.
func (t *TaskInstance) RecordArtifact(phaseID, id string) {
	if t.ArtifactRefs == nil {
		t.ArtifactRefs = make(map[string][]string)
	}
	t.ArtifactRefs[phaseID] = append(t.ArtifactRefs[phaseID], id)
	t.History = append(t.History, id)
}

// Counter returns the retry counter for key.
func (t *TaskInstance) Counter(key string) int {
	return t.RetryCounters[key]
}

// Increment bumps the retry counter for key and returns the new value.
func (t *TaskInstance) Increment(key string) int {
	if t.RetryCounters == nil {
		t.RetryCounters = make(map[string]int)
	}
	t.RetryCounters[key]++
	return t.RetryCounters[key]
}

// Clone returns a deep copy.
func (t *TaskInstance) Clone() *TaskInstance {
	if t == nil {
		return nil
	}
	c := *t
	c.RetryCounters = cloneMap(t.RetryCounters)
	c.Metadata = cloneMap(t.Metadata)
	if t.ArtifactRefs != nil {
		c.ArtifactRefs = make(map[string][]string, len(t.ArtifactRefs))
		for k, v := range t.ArtifactRefs {
			c.ArtifactRefs[k] = append([]string(nil), v...)
		}
	}
	c.History = append([]string(nil), t.History...)
	c.Hops = append([]Hop(nil), t.Hops...)
	c.Unknowns = t.Unknowns.Clone()
	c.Guidance = append([]string(nil), t.Guidance...)
	if t.PendingEscalation != nil {
		esc := *t.PendingEscalation
		esc.Questions = make([]Question, len(t.PendingEscalation.Questions))
		for i, q := range t.PendingEscalation.Questions {
			esc.Questions[i] = q
			esc.Questions[i].Options = append([]string(nil), q.Options...)
		}
		c.PendingEscalation = &esc
	}
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
