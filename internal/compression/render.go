package compression

import (
	"fmt"
	"strings"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
)

// render produces the text of a at level. Lower levels contain every line
// of higher levels, so token counts never grow with the level.
func render(a *artifact.Artifact, level artifact.Level, open map[string]bool, sentences int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[phase %s]\n", a.PhaseID)

	switch level {
	case artifact.LevelVerbatim:
		if a.Body != "" {
			b.WriteString(a.Body)
			b.WriteString("\n")
		}
		for _, q := range artifact.AllQuadrants {
			if text := a.Quadrants.Get(q); text != "" {
				fmt.Fprintf(&b, "%s: %s\n", q, text)
			}
		}
	case artifact.LevelSummary:
		for _, s := range topSentences(a.Body, sentences) {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	for _, d := range a.Decisions {
		fmt.Fprintf(&b, "decision %s: %s\n", d.ID, d.Statement)
		if d.Rationale != "" {
			fmt.Fprintf(&b, "rationale: %s\n", d.Rationale)
		}
	}
	for _, m := range a.MissingInformation {
		fmt.Fprintf(&b, "missing: %s\n", m)
	}
	for _, u := range a.Unknowns {
		if level > artifact.LevelVerbatim && !open[u.ID] {
			continue
		}
		fmt.Fprintf(&b, "unknown %s: %s\n", u.ID, u.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
