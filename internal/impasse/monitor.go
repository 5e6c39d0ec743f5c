package impasse

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
)

// Signal confidences. Anything at or above the configured threshold
// (default 0.7) decides the verdict.
const (
	confBoundConflict   = 1.0
	confLooseConflict   = 0.4
	confUnclosedUnknown = 0.9
	confMissingInfo     = 0.8
	confSharedTopRank   = 0.8
	confUnrankedOptions = 0.75
	confDegenerate      = 1.0
	confShortOutput     = 0.8
)

// Monitor evaluates results. It holds no per-task state and is safe for
// concurrent use.
type Monitor struct {
	config Config
	logger *zap.Logger
}

// New creates a Monitor. Zero thresholds take their defaults.
func New(cfg Config, logger *zap.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{config: cfg, logger: logger}
}

// Evaluate classifies result against h. The first signal in priority order
// whose confidence reaches the threshold becomes the verdict; when none
// does, the verdict is None and the weaker signals are still reported.
func (m *Monitor) Evaluate(result *artifact.Artifact, h History) Verdict {
	if result == nil {
		return Verdict{Type: NoChange, Confidence: confDegenerate, Evidence: "no result"}
	}

	var signals []Signal
	signals = append(signals, conflicts(result, h)...)
	signals = append(signals, missingKnowledge(result, h)...)
	signals = append(signals, ties(result)...)
	signals = append(signals, m.noChange(result, h)...)

	sort.SliceStable(signals, func(i, j int) bool {
		pi, pj := priority[signals[i].Type], priority[signals[j].Type]
		if pi != pj {
			return pi < pj
		}
		return signals[i].Confidence > signals[j].Confidence
	})

	v := Verdict{Type: None, Signals: signals}
	for _, s := range signals {
		if s.Confidence >= m.config.ConfidenceThreshold {
			v.Type = s.Type
			v.Confidence = s.Confidence
			v.Evidence = s.Evidence
			break
		}
	}

	if len(signals) > 0 {
		m.logger.Debug("impasse evaluated",
			zap.String("phase", result.PhaseID),
			zap.String("verdict", string(v.Type)),
			zap.Int("signals", len(signals)))
	}
	return v
}

func conflicts(result *artifact.Artifact, h History) []Signal {
	if len(result.Contradicts) == 0 {
		return nil
	}
	prior := make(map[string]artifact.Decision, len(h.Decisions))
	for _, d := range h.Decisions {
		prior[d.ID] = d
	}

	var out []Signal
	for _, id := range result.Contradicts {
		d, ok := prior[id]
		switch {
		case !ok:
			out = append(out, Signal{Conflict, confLooseConflict,
				fmt.Sprintf("contradicts unknown decision %s", id)})
		case d.Bound():
			out = append(out, Signal{Conflict, confBoundConflict,
				fmt.Sprintf("contradicts decision %s, which has unresolved constraints", id)})
		default:
			out = append(out, Signal{Conflict, confLooseConflict,
				fmt.Sprintf("contradicts decision %s, which is no longer bound", id)})
		}
	}
	return out
}

func missingKnowledge(result *artifact.Artifact, h History) []Signal {
	var out []Signal
	for _, u := range result.Unknowns {
		if !u.Status.IsOpen() {
			continue
		}
		resolver := u.ResolvingPhase
		if rec, ok := h.Unknowns[u.ID]; ok && rec.ResolvingPhase != "" {
			resolver = rec.ResolvingPhase
		}
		// An unknown handed to a later phase is not this phase's impasse.
		if resolver != "" && resolver != result.PhaseID {
			continue
		}
		out = append(out, Signal{MissingKnowledge, confUnclosedUnknown,
			fmt.Sprintf("unknown %s is still %s with no later phase to resolve it", u.ID, u.Status)})
	}
	if len(result.MissingInformation) > 0 {
		out = append(out, Signal{MissingKnowledge, confMissingInfo,
			"missing information: " + strings.Join(result.MissingInformation, "; ")})
	}
	return out
}

func ties(result *artifact.Artifact) []Signal {
	if len(result.Options) < 2 {
		return nil
	}
	top := 0
	for _, o := range result.Options {
		if o.Rank > 0 && (top == 0 || o.Rank < top) {
			top = o.Rank
		}
	}
	if top == 0 {
		return []Signal{{Tie, confUnrankedOptions,
			fmt.Sprintf("%d options with no ranking", len(result.Options))}}
	}

	var tied []string
	for _, o := range result.Options {
		if o.Rank == top {
			tied = append(tied, o.ID)
		}
	}
	if len(tied) < 2 {
		return nil
	}
	return []Signal{{Tie, confSharedTopRank,
		fmt.Sprintf("options %s share rank %d", strings.Join(tied, ", "), top)}}
}

func (m *Monitor) noChange(result *artifact.Artifact, h History) []Signal {
	if result.Degenerate {
		return []Signal{{NoChange, confDegenerate, "worker produced no usable result"}}
	}

	var out []Signal
	if h.MinOutputTokens > 0 {
		if n := result.Tokens(); n < h.MinOutputTokens {
			out = append(out, Signal{NoChange, confShortOutput,
				fmt.Sprintf("output has %d tokens, expected at least %d", n, h.MinOutputTokens)})
		}
	}

	if h.Previous != nil && !h.Previous.Degenerate {
		sim := Similarity(text(result), text(h.Previous))
		switch {
		case sim >= m.config.DuplicateThreshold:
			out = append(out, Signal{NoChange, 0.5 + sim/2,
				fmt.Sprintf("%.0f%% word overlap with previous attempt", sim*100)})
		case sim >= m.config.DuplicateThreshold*0.8:
			out = append(out, Signal{NoChange, sim / 2,
				fmt.Sprintf("%.0f%% word overlap with previous attempt", sim*100)})
		}
	}
	return out
}

func text(a *artifact.Artifact) string {
	parts := []string{a.Body}
	for _, q := range artifact.AllQuadrants {
		parts = append(parts, a.Quadrants.Get(q))
	}
	return strings.Join(parts, " ")
}

// Similarity is the Jaccard index of the lowercased word sets of a and b.
// Two empty texts are identical.
func Similarity(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func words(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if f != "" {
			set[f] = true
		}
	}
	return set
}
