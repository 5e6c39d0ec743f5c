package remediation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skribblez2718/penny-sub000/internal/impasse"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

func workflow(t *testing.T, routes phasegraph.Routes) *phasegraph.WorkflowDefinition {
	t.Helper()
	def := phasegraph.WorkflowDefinition{
		ID: "wf",
		Phases: []phasegraph.PhaseDefinition{
			{ID: "A", Type: phasegraph.PhaseLinear, WorkerRole: phasegraph.RoleClarifier, Next: "B"},
			{ID: "B", Type: phasegraph.PhaseLinear, WorkerRole: phasegraph.RoleGenerator, Predecessors: []string{"A"}, Next: "C"},
			{ID: "C", Type: phasegraph.PhaseLinear, WorkerRole: phasegraph.RoleAnalyst, Predecessors: []string{"B"}, MaxIterations: 3},
		},
		Routes: routes,
	}
	for _, id := range []string{routes.Clarification, routes.Research, routes.Analysis} {
		if id == "" {
			continue
		}
		def.Phases = append(def.Phases, phasegraph.PhaseDefinition{
			ID: id, Type: phasegraph.PhaseLinear, WorkerRole: phasegraph.RoleResearcher,
			PredecessorMode: phasegraph.PredecessorSingle,
		})
	}

	compiled, err := def.Compile()
	require.NoError(t, err)
	return compiled
}

func allRoutes() phasegraph.Routes {
	return phasegraph.Routes{Clarification: "Q", Research: "R", Analysis: "N"}
}

func phase(t *testing.T, def *phasegraph.WorkflowDefinition, id string) phasegraph.PhaseDefinition {
	t.Helper()
	p, err := def.MustPhase(id)
	require.NoError(t, err)
	return p
}

func TestDecide_Matrix(t *testing.T) {
	def := workflow(t, allRoutes())
	d := NewDispatcher(DefaultCeiling)
	inst := taskstate.New("t1", "wf", "A", nil)
	b := phase(t, def, "B")

	tests := []struct {
		verdict impasse.Type
		action  Action
		target  string
		key     string
	}{
		{impasse.None, Continue, "", ""},
		{impasse.Conflict, RouteToPhase, "Q", "B#conflict"},
		{impasse.MissingKnowledge, RouteToPhase, "R", "B#missing_knowledge"},
		{impasse.Tie, RouteToPhase, "N", "B#tie"},
		{impasse.NoChange, ReinvokeSamePhase, "B", "B"},
	}
	for _, tt := range tests {
		t.Run(string(tt.verdict), func(t *testing.T) {
			dec := d.Decide(impasse.Verdict{Type: tt.verdict}, def, b, inst)
			assert.Equal(t, tt.action, dec.Action)
			assert.Equal(t, tt.target, dec.TargetPhaseID)
			assert.Equal(t, tt.key, dec.CounterKey)
		})
	}
}

func TestDecide_EscalatesAtCeiling(t *testing.T) {
	def := workflow(t, allRoutes())
	d := NewDispatcher(DefaultCeiling)
	inst := taskstate.New("t1", "wf", "A", nil)
	b := phase(t, def, "B")

	inst.Increment(ReinvokeKey("B"))
	dec := d.Decide(impasse.Verdict{Type: impasse.NoChange}, def, b, inst)
	assert.Equal(t, Escalate, dec.Action)
	assert.True(t, dec.Exhausted)

	inst.Increment(RouteKey("B", impasse.Conflict))
	dec = d.Decide(impasse.Verdict{Type: impasse.Conflict}, def, b, inst)
	assert.Equal(t, Escalate, dec.Action)

	// Other verdicts keep their own counters.
	dec = d.Decide(impasse.Verdict{Type: impasse.Tie}, def, b, inst)
	assert.Equal(t, RouteToPhase, dec.Action)
}

func TestDecide_MaxIterationsIsTheCeiling(t *testing.T) {
	def := workflow(t, allRoutes())
	d := NewDispatcher(DefaultCeiling)
	inst := taskstate.New("t1", "wf", "A", nil)
	c := phase(t, def, "C")

	reinvocations := 0
	for i := 0; i < 10; i++ {
		dec := d.Decide(impasse.Verdict{Type: impasse.NoChange}, def, c, inst)
		if dec.Action != ReinvokeSamePhase {
			assert.Equal(t, Escalate, dec.Action)
			break
		}
		inst.Increment(dec.CounterKey)
		reinvocations++
	}
	assert.Equal(t, 3, reinvocations)
}

func TestDecide_UndeclaredRouteEscalates(t *testing.T) {
	def := workflow(t, phasegraph.Routes{Research: "R"})
	d := NewDispatcher(DefaultCeiling)
	inst := taskstate.New("t1", "wf", "A", nil)

	dec := d.Decide(impasse.Verdict{Type: impasse.Tie, Evidence: "x and y tie"}, def, phase(t, def, "B"), inst)
	assert.Equal(t, Escalate, dec.Action)
	assert.False(t, dec.Exhausted)
	assert.Contains(t, dec.Reason, "no analysis phase")
}

func TestDecide_ZeroCeiling(t *testing.T) {
	def := workflow(t, allRoutes())
	d := NewDispatcher(0)
	inst := taskstate.New("t1", "wf", "A", nil)

	dec := d.Decide(impasse.Verdict{Type: impasse.NoChange}, def, phase(t, def, "B"), inst)
	assert.Equal(t, Escalate, dec.Action)
}

func TestDecide_UnknownVerdictAborts(t *testing.T) {
	def := workflow(t, allRoutes())
	d := NewDispatcher(DefaultCeiling)
	inst := taskstate.New("t1", "wf", "A", nil)

	dec := d.Decide(impasse.Verdict{Type: "mystery"}, def, phase(t, def, "B"), inst)
	assert.Equal(t, Abort, dec.Action)
}

func TestDecide_Pure(t *testing.T) {
	def := workflow(t, allRoutes())
	d := NewDispatcher(DefaultCeiling)
	inst := taskstate.New("t1", "wf", "A", nil)
	before := inst.Clone()

	d.Decide(impasse.Verdict{Type: impasse.NoChange}, def, phase(t, def, "B"), inst)
	d.Decide(impasse.Verdict{Type: impasse.Conflict}, def, phase(t, def, "B"), inst)
	assert.Equal(t, before, inst)
}
