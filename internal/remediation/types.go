package remediation

import (
	"github.com/skribblez2718/penny-sub000/internal/impasse"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
)

// Action is what the engine does next.
type Action string

const (
	Continue          Action = "continue"
	ReinvokeSamePhase Action = "reinvoke_same_phase"
	RouteToPhase      Action = "route_to_phase"
	Escalate          Action = "escalate"
	Abort             Action = "abort"
)

// Decision is the dispatcher's answer for one verdict.
type Decision struct {
	Action        Action `json:"action"`
	TargetPhaseID string `json:"target_phase_id,omitempty"`
	Reason        string `json:"reason"`

	// CounterKey is the retry counter the engine increments when it
	// applies a ReinvokeSamePhase or RouteToPhase decision.
	CounterKey string `json:"counter_key,omitempty"`

	// Exhausted is set on an Escalate caused by a counter at its ceiling.
	Exhausted bool `json:"exhausted,omitempty"`
}

// routeFor maps a routed verdict to the route it uses.
var routeFor = map[impasse.Type]phasegraph.RouteKind{
	impasse.Conflict:         phasegraph.RouteClarification,
	impasse.MissingKnowledge: phasegraph.RouteResearch,
	impasse.Tie:              phasegraph.RouteAnalysis,
}

// ReinvokeKey is the counter key for reinvocations of phaseID.
func ReinvokeKey(phaseID string) string {
	return phaseID
}

// RouteKey is the counter key for routes out of phaseID caused by v.
func RouteKey(phaseID string, v impasse.Type) string {
	return phaseID + "#" + string(v)
}

// IterateKey counts extra passes of an Iterative phase.
func IterateKey(phaseID string) string {
	return phaseID + "#iterate"
}

// ReworkKey counts back-edges taken by a Remediation phase.
func ReworkKey(phaseID string) string {
	return phaseID + "#rework"
}

// RouteFor returns the route used for a routed verdict type.
func RouteFor(v impasse.Type) (phasegraph.RouteKind, bool) {
	kind, ok := routeFor[v]
	return kind, ok
}
