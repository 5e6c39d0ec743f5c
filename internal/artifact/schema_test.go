package artifact

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validArtifact() *Artifact {
	return &Artifact{
		PhaseID: "B",
		Body:    "The draft covers the storage layer. It leaves transport open.",
		Quadrants: Quadrants{
			Open:    "storage layer covered",
			Hidden:  "migration cost",
			Blind:   "operator workflow",
			Unknown: "transport choice",
		},
	}
}

func TestNormalize_Valid(t *testing.T) {
	a := validArtifact()
	require.NoError(t, Normalize(a, Bounds{Min: 1, Max: 50}))
	assert.Empty(t, a.Truncations)
	assert.Equal(t, 10+3+2+2+2, a.TokenCount)
}

func TestNormalize_MissingQuadrant(t *testing.T) {
	a := validArtifact()
	a.Quadrants.Blind = "  "

	err := Normalize(a, Bounds{Min: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
	assert.Contains(t, err.Error(), "quadrant blind missing")
}

func TestNormalize_BelowMinimum(t *testing.T) {
	a := validArtifact()
	err := Normalize(a, Bounds{Min: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
	assert.Contains(t, err.Error(), "quadrant hidden has 2 tokens, minimum 3")
	assert.Empty(t, a.Truncations, "invalid results are not coerced")
}

func TestNormalize_TruncatesAboveMaximum(t *testing.T) {
	a := validArtifact()
	a.Quadrants.Open = strings.Repeat("word ", 12)

	require.NoError(t, Normalize(a, Bounds{Min: 1, Max: 5}))
	assert.Equal(t, "word word word word word", a.Quadrants.Open)
	require.Len(t, a.Truncations, 1)
	assert.Equal(t, Truncation{Quadrant: QuadrantOpen, OriginalTokens: 12, KeptTokens: 5}, a.Truncations[0])

	// A second pass is a no-op.
	require.NoError(t, Normalize(a, Bounds{Min: 1, Max: 5}))
	assert.Len(t, a.Truncations, 1)
}

func TestNormalize_UnknownRecords(t *testing.T) {
	a := validArtifact()
	a.Unknowns = []UnknownRecord{
		{ID: "u1", Description: "x", Status: UnknownUnresolved},
		{ID: "u1", Description: "y", Status: UnknownResolved},
		{ID: "u2", Description: "z", Status: "maybe"},
	}
	err := Normalize(a, Bounds{Min: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown u1 listed twice")
	assert.Contains(t, err.Error(), `unknown u2 has invalid status "maybe"`)
}

func TestTruncateTokens(t *testing.T) {
	assert.Equal(t, "a b", TruncateTokens("a   b\n c", 2))
	assert.Equal(t, "a b", TruncateTokens("a b", 5))
	assert.Equal(t, 0, CountTokens(" \n\t"))
}
