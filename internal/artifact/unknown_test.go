package artifact

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownStatus_ForwardOnly(t *testing.T) {
	tests := []struct {
		from, to UnknownStatus
		ok       bool
	}{
		{UnknownUnresolved, UnknownInProgress, true},
		{UnknownUnresolved, UnknownResolved, true},
		{UnknownUnresolved, UnknownDeferred, true},
		{UnknownInProgress, UnknownResolved, true},
		{UnknownInProgress, UnknownUnresolved, false},
		{UnknownResolved, UnknownUnresolved, false},
		{UnknownResolved, UnknownInProgress, false},
		{UnknownDeferred, UnknownResolved, false},
		{UnknownResolved, UnknownResolved, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestLedger_Apply(t *testing.T) {
	l := Ledger{}
	require.NoError(t, l.Apply(UnknownRecord{ID: "u1", OriginPhase: "C", Description: "which vendor", Status: UnknownUnresolved}))
	require.NoError(t, l.Apply(UnknownRecord{ID: "u2", OriginPhase: "C", Description: "budget", Status: UnknownDeferred}))
	assert.Equal(t, []string{"u1"}, ids(l.Open()))

	require.NoError(t, l.Apply(UnknownRecord{ID: "u1", Status: UnknownResolved, ResolvingPhase: "R"}))
	assert.Equal(t, "which vendor", l["u1"].Description, "description carried forward")
	assert.Equal(t, "C", l["u1"].OriginPhase)
	assert.Empty(t, l.Open())

	err := l.Apply(UnknownRecord{ID: "u1", Status: UnknownUnresolved})
	assert.True(t, errors.Is(err, ErrStatusRegression))
	assert.Equal(t, UnknownResolved, l["u1"].Status)
}

func ids(recs []UnknownRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
