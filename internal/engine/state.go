package engine

// State is a step of the per-task walk. The current state is persisted as
// TaskInstance.Stage on every commit.
type State string

const (
	StateIdle                 State = "idle"
	StateLoading              State = "loading"
	StateResolving            State = "resolving"
	StateInvoking             State = "invoking"
	StateEvaluating           State = "evaluating"
	StateTransitioning        State = "transitioning"
	StateWaitingExternalInput State = "waiting_external_input"
	StateCompleted            State = "completed"
	StateAborted              State = "aborted"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	StateIdle:                 {StateLoading, StateAborted},
	StateLoading:              {StateResolving, StateTransitioning, StateWaitingExternalInput, StateCompleted, StateAborted},
	StateResolving:            {StateInvoking, StateWaitingExternalInput, StateAborted},
	StateInvoking:             {StateEvaluating, StateAborted},
	StateEvaluating:           {StateTransitioning, StateAborted},
	StateTransitioning:        {StateIdle, StateWaitingExternalInput, StateCompleted, StateAborted},
	StateWaitingExternalInput: {StateLoading, StateCompleted, StateAborted},
	StateCompleted:            {}, // terminal
	StateAborted:              {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}
