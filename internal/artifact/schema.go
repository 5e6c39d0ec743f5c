package artifact

import (
	"fmt"
	"strings"
)

// Bounds are the per-quadrant token limits. Max 0 disables truncation.
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Normalize validates a worker result against the artifact schema.
//
// Every quadrant must be present and hold at least b.Min tokens; otherwise
// the result is rejected with ErrSchema. Quadrants above b.Max are cut to
// b.Max tokens and the cut is recorded in Truncations. TokenCount is
// recomputed.
func Normalize(a *Artifact, b Bounds) error {
	if a == nil {
		return fmt.Errorf("%w: empty result", ErrSchema)
	}

	var problems []string
	for _, q := range AllQuadrants {
		text := a.Quadrants.Get(q)
		n := CountTokens(text)
		if n == 0 {
			problems = append(problems, fmt.Sprintf("quadrant %s missing", q))
			continue
		}
		if n < b.Min {
			problems = append(problems, fmt.Sprintf("quadrant %s has %d tokens, minimum %d", q, n, b.Min))
		}
	}

	seen := make(map[string]bool, len(a.Unknowns))
	for i, u := range a.Unknowns {
		switch {
		case u.ID == "":
			problems = append(problems, fmt.Sprintf("unknown[%d] has no id", i))
		case seen[u.ID]:
			problems = append(problems, fmt.Sprintf("unknown %s listed twice", u.ID))
		case !u.Status.IsValid():
			problems = append(problems, fmt.Sprintf("unknown %s has invalid status %q", u.ID, u.Status))
		}
		seen[u.ID] = true
	}
	for _, o := range a.Options {
		if o.Rank < 0 {
			problems = append(problems, fmt.Sprintf("option %s has negative rank", o.ID))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchema, strings.Join(problems, "; "))
	}

	if b.Max > 0 {
		for _, q := range AllQuadrants {
			text := a.Quadrants.Get(q)
			n := CountTokens(text)
			if n <= b.Max {
				continue
			}
			a.Quadrants.Set(q, TruncateTokens(text, b.Max))
			a.Truncations = append(a.Truncations, Truncation{
				Quadrant:       q,
				OriginalTokens: n,
				KeptTokens:     b.Max,
			})
		}
	}

	a.TokenCount = a.Tokens()
	return nil
}
