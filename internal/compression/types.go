package compression

import (
	"errors"
	"sort"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
)

// ErrOverBudget is returned when maximal compression still exceeds the
// budget.
var ErrOverBudget = errors.New("history exceeds token budget")

// Config holds compression settings.
type Config struct {
	// Budget is the maximum token count of a compressed history. 0 disables
	// the check.
	Budget int

	// SummarySentences bounds the body sentences kept at level 2.
	SummarySentences int
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{Budget: 8000, SummarySentences: 3}
}

// Entry is one artifact rendered at a compression level.
type Entry struct {
	ArtifactID string         `json:"artifact_id"`
	PhaseID    string         `json:"phase_id"`
	Age        int            `json:"age"`
	Level      artifact.Level `json:"level"`
	Text       string         `json:"text"`
	Tokens     int            `json:"tokens"`

	source *artifact.Artifact
}

// History is the ordered input to a phase, oldest first.
type History struct {
	Entries []Entry `json:"entries"`

	// Open unknowns are preserved verbatim regardless of entry levels.
	Open []artifact.UnknownRecord `json:"open_unknowns,omitempty"`
}

// Tokens returns the total token count of the history.
func (h History) Tokens() int {
	n := 0
	for _, e := range h.Entries {
		n += e.Tokens
	}
	for _, u := range h.Open {
		n += artifact.CountTokens(u.Description)
	}
	return n
}

// FromArtifacts builds a verbatim history from arts, oldest first. Ages
// follow position; use AgeByRecency when arts are not in commit order.
func FromArtifacts(arts []*artifact.Artifact, open []artifact.UnknownRecord) History {
	h := History{
		Entries: make([]Entry, 0, len(arts)),
		Open:    append([]artifact.UnknownRecord(nil), open...),
	}
	openSet := openIDs(h.Open)
	for i, a := range arts {
		text := render(a, artifact.LevelVerbatim, openSet, 0)
		h.Entries = append(h.Entries, Entry{
			ArtifactID: a.ID,
			PhaseID:    a.PhaseID,
			Age:        len(arts) - i,
			Level:      artifact.LevelVerbatim,
			Text:       text,
			Tokens:     artifact.CountTokens(text),
			source:     a,
		})
	}
	return h
}

// AgeByRecency reassigns entry ages from commit order. order lists artifact
// ids oldest first; the most recently committed entry gets age 1. Entries
// missing from order count as older than every listed one. Entry order is
// unchanged.
func (h History) AgeByRecency(order []string) History {
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	pos := func(e Entry) int {
		if r, ok := rank[e.ArtifactID]; ok {
			return r
		}
		return -1
	}

	idx := make([]int, len(h.Entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return pos(h.Entries[idx[i]]) < pos(h.Entries[idx[j]])
	})

	out := History{
		Entries: append([]Entry(nil), h.Entries...),
		Open:    append([]artifact.UnknownRecord(nil), h.Open...),
	}
	for k, i := range idx {
		out.Entries[i].Age = len(idx) - k
	}
	return out
}

// targetLevel maps an entry age to its compression level.
func targetLevel(age int) artifact.Level {
	switch {
	case age <= 1:
		return artifact.LevelVerbatim
	case age == 2:
		return artifact.LevelSummary
	}
	return artifact.LevelResidue
}

func openIDs(open []artifact.UnknownRecord) map[string]bool {
	ids := make(map[string]bool, len(open))
	for _, u := range open {
		ids[u.ID] = true
	}
	return ids
}
