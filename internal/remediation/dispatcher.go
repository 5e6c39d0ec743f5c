package remediation

import (
	"fmt"

	"github.com/skribblez2718/penny-sub000/internal/impasse"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// DefaultCeiling is the automatic attempt count for phases without
// max_iterations.
const DefaultCeiling = 1

// Dispatcher holds the default retry ceiling. It is immutable.
type Dispatcher struct {
	defaultCeiling int
}

// NewDispatcher creates a Dispatcher. A negative ceiling uses
// DefaultCeiling; zero means every impasse escalates immediately.
func NewDispatcher(defaultCeiling int) *Dispatcher {
	if defaultCeiling < 0 {
		defaultCeiling = DefaultCeiling
	}
	return &Dispatcher{defaultCeiling: defaultCeiling}
}

// Ceiling returns the retry ceiling for phase.
func (d *Dispatcher) Ceiling(phase phasegraph.PhaseDefinition) int {
	if phase.MaxIterations > 0 {
		return phase.MaxIterations
	}
	return d.defaultCeiling
}

// Decide returns the action for verdict v produced by phase.
func (d *Dispatcher) Decide(v impasse.Verdict, def *phasegraph.WorkflowDefinition, phase phasegraph.PhaseDefinition, inst *taskstate.TaskInstance) Decision {
	ceiling := d.Ceiling(phase)

	switch v.Type {
	case impasse.None, "":
		return Decision{Action: Continue, Reason: "no impasse"}

	case impasse.NoChange:
		key := ReinvokeKey(phase.ID)
		if n := inst.Counter(key); n >= ceiling {
			return Decision{
				Action:    Escalate,
				Reason:    fmt.Sprintf("phase %s made no progress after %d reinvocations: %s", phase.ID, n, v.Evidence),
				Exhausted: true,
			}
		}
		return Decision{
			Action:        ReinvokeSamePhase,
			TargetPhaseID: phase.ID,
			Reason:        v.Evidence,
			CounterKey:    key,
		}

	case impasse.Conflict, impasse.MissingKnowledge, impasse.Tie:
		kind := routeFor[v.Type]
		target := def.RouteTarget(kind)
		if target == "" {
			return Decision{
				Action: Escalate,
				Reason: fmt.Sprintf("%s at phase %s and no %s phase is declared: %s", v.Type, phase.ID, kind, v.Evidence),
			}
		}
		key := RouteKey(phase.ID, v.Type)
		if n := inst.Counter(key); n >= ceiling {
			return Decision{
				Action:    Escalate,
				Reason:    fmt.Sprintf("%s at phase %s persisted after %d routes to %s: %s", v.Type, phase.ID, n, target, v.Evidence),
				Exhausted: true,
			}
		}
		return Decision{
			Action:        RouteToPhase,
			TargetPhaseID: target,
			Reason:        v.Evidence,
			CounterKey:    key,
		}
	}

	return Decision{Action: Abort, Reason: fmt.Sprintf("unrecognized verdict %q", v.Type)}
}
