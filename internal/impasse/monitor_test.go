package impasse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
)

func result(phase, body string) *artifact.Artifact {
	return &artifact.Artifact{
		PhaseID: phase,
		Body:    body,
		Quadrants: artifact.Quadrants{
			Open: "open", Hidden: "hidden", Blind: "blind", Unknown: "unknown",
		},
	}
}

func boundDecision(id string) artifact.Decision {
	return artifact.Decision{
		ID:          id,
		Statement:   "use postgres",
		Constraints: []artifact.Constraint{{ID: "c1", Description: "budget approved"}},
	}
}

func TestEvaluate_None(t *testing.T) {
	m := New(DefaultConfig(), nil)
	v := m.Evaluate(result("B", "a fresh plan with details"), History{})
	assert.Equal(t, None, v.Type)
	assert.False(t, v.IsImpasse())
	assert.Empty(t, v.Signals)
}

func TestEvaluate_Conflict(t *testing.T) {
	m := New(DefaultConfig(), nil)
	r := result("C", "we should use sqlite instead")
	r.Contradicts = []string{"d1"}

	v := m.Evaluate(r, History{Decisions: []artifact.Decision{boundDecision("d1")}})
	assert.Equal(t, Conflict, v.Type)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Contains(t, v.Evidence, "d1")
}

func TestEvaluate_ConflictOnResolvedDecisionIsSubThreshold(t *testing.T) {
	m := New(DefaultConfig(), nil)
	d := boundDecision("d1")
	d.Constraints[0].Resolved = true
	r := result("C", "we should use sqlite instead")
	r.Contradicts = []string{"d1"}

	v := m.Evaluate(r, History{Decisions: []artifact.Decision{d}})
	assert.Equal(t, None, v.Type)
	require.Len(t, v.Signals, 1)
	assert.Equal(t, Conflict, v.Signals[0].Type)
	assert.Less(t, v.Signals[0].Confidence, 0.7)
}

func TestEvaluate_MissingKnowledge(t *testing.T) {
	m := New(DefaultConfig(), nil)

	t.Run("missing information", func(t *testing.T) {
		r := result("C", "analysis incomplete")
		r.MissingInformation = []string{"current traffic numbers"}
		v := m.Evaluate(r, History{})
		assert.Equal(t, MissingKnowledge, v.Type)
		assert.Contains(t, v.Evidence, "traffic")
	})

	t.Run("unknown left open by resolving phase", func(t *testing.T) {
		r := result("C", "analysis")
		r.Unknowns = []artifact.UnknownRecord{{ID: "u1", Status: artifact.UnknownInProgress}}
		ledger := artifact.Ledger{"u1": {ID: "u1", OriginPhase: "A", ResolvingPhase: "C", Status: artifact.UnknownUnresolved}}
		v := m.Evaluate(r, History{Unknowns: ledger})
		assert.Equal(t, MissingKnowledge, v.Type)
		assert.Contains(t, v.Evidence, "u1")
	})

	t.Run("unknown with no resolving phase", func(t *testing.T) {
		r := result("C", "analysis")
		r.Unknowns = []artifact.UnknownRecord{{ID: "u2", Status: artifact.UnknownUnresolved, OriginPhase: "C"}}
		assert.Equal(t, MissingKnowledge, m.Evaluate(r, History{}).Type)
	})

	t.Run("resolved unknown", func(t *testing.T) {
		r := result("R", "found it")
		r.Unknowns = []artifact.UnknownRecord{{ID: "u2", Status: artifact.UnknownResolved}}
		assert.Equal(t, None, m.Evaluate(r, History{}).Type)
	})

	t.Run("unknown owned by a later phase", func(t *testing.T) {
		r := result("B", "draft")
		r.Unknowns = []artifact.UnknownRecord{{ID: "u1", Status: artifact.UnknownUnresolved, ResolvingPhase: "D"}}
		v := m.Evaluate(r, History{})
		assert.Equal(t, None, v.Type)
	})
}

func TestEvaluate_Tie(t *testing.T) {
	m := New(DefaultConfig(), nil)
	tests := []struct {
		name    string
		options []artifact.Option
		want    Type
	}{
		{"unranked", []artifact.Option{{ID: "x"}, {ID: "y"}}, Tie},
		{"shared top rank", []artifact.Option{{ID: "x", Rank: 1}, {ID: "y", Rank: 1}, {ID: "z", Rank: 2}}, Tie},
		{"clear winner", []artifact.Option{{ID: "x", Rank: 1}, {ID: "y", Rank: 2}}, None},
		{"ranked beats unranked", []artifact.Option{{ID: "x", Rank: 1}, {ID: "y"}}, None},
		{"single option", []artifact.Option{{ID: "x"}}, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := result("C", "options enumerated")
			r.Options = tt.options
			assert.Equal(t, tt.want, m.Evaluate(r, History{}).Type)
		})
	}
}

func TestEvaluate_NoChange(t *testing.T) {
	m := New(DefaultConfig(), nil)

	t.Run("duplicate of previous attempt", func(t *testing.T) {
		prev := result("B", "the plan uses three services behind a gateway")
		cur := result("B", "The plan uses three services behind a gateway.")
		v := m.Evaluate(cur, History{Previous: prev})
		assert.Equal(t, NoChange, v.Type)
		assert.GreaterOrEqual(t, v.Confidence, 0.9)
	})

	t.Run("degenerate", func(t *testing.T) {
		r := &artifact.Artifact{PhaseID: "B", Degenerate: true}
		v := m.Evaluate(r, History{})
		assert.Equal(t, NoChange, v.Type)
	})

	t.Run("below minimum output", func(t *testing.T) {
		v := m.Evaluate(result("B", "short"), History{MinOutputTokens: 50})
		assert.Equal(t, NoChange, v.Type)
		assert.Contains(t, v.Evidence, "expected at least 50")
	})

	t.Run("different attempt", func(t *testing.T) {
		prev := result("B", "the plan uses three services behind a gateway")
		cur := result("B", "a single binary deployed to two regions with failover and replicas")
		assert.Equal(t, None, m.Evaluate(cur, History{Previous: prev}).Type)
	})

	t.Run("nil result", func(t *testing.T) {
		assert.Equal(t, NoChange, m.Evaluate(nil, History{}).Type)
	})
}

func TestEvaluate_Priority(t *testing.T) {
	m := New(DefaultConfig(), nil)
	r := result("C", "conflicting and incomplete")
	r.Contradicts = []string{"d1"}
	r.MissingInformation = []string{"load numbers"}
	r.Options = []artifact.Option{{ID: "x"}, {ID: "y"}}

	v := m.Evaluate(r, History{
		Decisions:       []artifact.Decision{boundDecision("d1")},
		MinOutputTokens: 1000,
	})
	assert.Equal(t, Conflict, v.Type)
	assert.Len(t, v.Signals, 4)

	r.Contradicts = nil
	assert.Equal(t, MissingKnowledge, m.Evaluate(r, History{MinOutputTokens: 1000}).Type)

	r.MissingInformation = nil
	assert.Equal(t, Tie, m.Evaluate(r, History{MinOutputTokens: 1000}).Type)
}

func TestEvaluate_ThresholdConfigurable(t *testing.T) {
	m := New(Config{ConfidenceThreshold: 0.95}, nil)
	r := result("C", "incomplete")
	r.MissingInformation = []string{"x"}

	v := m.Evaluate(r, History{})
	assert.Equal(t, None, v.Type)
	require.Len(t, v.Signals, 1)
}

func TestEvaluate_DoesNotMutate(t *testing.T) {
	m := New(DefaultConfig(), nil)
	r := result("C", "body")
	r.Options = []artifact.Option{{ID: "x"}, {ID: "y"}}
	ledger := artifact.Ledger{"u1": {ID: "u1", Status: artifact.UnknownUnresolved}}
	before := r.Clone()

	m.Evaluate(r, History{Unknowns: ledger})
	assert.Equal(t, before, r)
	assert.Len(t, ledger, 1)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("Hello, world", "world hello"))
	assert.Equal(t, 0.0, Similarity("alpha", "beta"))
	assert.InDelta(t, 0.5, Similarity("a b", "a b c d"), 1e-9)
}
