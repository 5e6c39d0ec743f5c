package phasegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePredicate(t *testing.T) {
	meta := map[string]string{"depth": "deep", "domain": "security"}

	tests := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"has depth", true},
		{"has audience", false},
		{"depth == deep", true},
		{"depth == 'deep'", true},
		{`domain == "finance"`, false},
		{"domain != finance", true},
		{"audience != anyone", true},
		{"audience == anyone", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := ParsePredicate(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Eval(meta))
		})
	}
}

func TestParsePredicate_Invalid(t *testing.T) {
	for _, expr := range []string{"", "   ", "has ", "depth > 3", "== deep", "has a b", "maybe"} {
		_, err := ParsePredicate(expr)
		assert.Error(t, err, "expr %q", expr)
	}
}

func TestPredicate_String(t *testing.T) {
	for _, expr := range []string{"true", "has depth", "depth == deep", "depth != shallow"} {
		p, err := ParsePredicate(expr)
		require.NoError(t, err)
		assert.Equal(t, expr, p.String())
	}
}
