package secrets

import (
	"regexp"
	"sort"
	"strings"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
)

// Finding is one detected secret. The matched value is never kept.
type Finding struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Line     int    `json:"line,omitempty"`
}

// Result is the outcome of scrubbing one string.
type Result struct {
	Scrubbed string         `json:"scrubbed"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Scrubber redacts secrets using regexp rules.
type Scrubber struct {
	config *Config
}

// New creates a Scrubber. A nil config uses DefaultConfig.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scrubber{config: cfg}, nil
}

// Enabled reports whether scrubbing is active.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.config.Enabled
}

type span struct{ start, end int }

// Scrub redacts every rule match in content not covered by the allow list.
func (s *Scrubber) Scrub(content string) Result {
	result := Result{Scrubbed: content}
	if !s.Enabled() || content == "" {
		return result
	}

	var spans []span
	for _, rule := range s.config.compiledRules {
		if len(rule.keywords) > 0 && !anyMatch(rule.keywords, content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:   rule.ID,
				Severity: rule.Severity,
				Start:    m[0],
				End:      m[1],
				Line:     strings.Count(content[:m[0]], "\n") + 1,
			})
			if result.ByRule == nil {
				result.ByRule = make(map[string]int)
			}
			result.ByRule[rule.ID]++
			spans = append(spans, span{m[0], m[1]})
		}
	}
	if len(spans) == 0 {
		return result
	}

	var b strings.Builder
	last := 0
	for _, sp := range merge(spans) {
		b.WriteString(content[last:sp.start])
		b.WriteString(s.config.RedactionString)
		last = sp.end
	}
	b.WriteString(content[last:])
	result.Scrubbed = b.String()
	return result
}

// ScrubArtifact redacts the free-text fields of a in place and returns the
// number of findings.
func (s *Scrubber) ScrubArtifact(a *artifact.Artifact) int {
	if !s.Enabled() || a == nil {
		return 0
	}
	n := 0
	apply := func(text *string) {
		r := s.Scrub(*text)
		*text = r.Scrubbed
		n += len(r.Findings)
	}

	apply(&a.Body)
	apply(&a.Quadrants.Open)
	apply(&a.Quadrants.Hidden)
	apply(&a.Quadrants.Blind)
	apply(&a.Quadrants.Unknown)
	for i := range a.Decisions {
		apply(&a.Decisions[i].Statement)
		apply(&a.Decisions[i].Rationale)
	}
	for i := range a.Unknowns {
		apply(&a.Unknowns[i].Description)
	}
	for i := range a.MissingInformation {
		apply(&a.MissingInformation[i])
	}
	for i := range a.Options {
		apply(&a.Options[i].Description)
	}
	return n
}

func (s *Scrubber) allowed(match string) bool {
	for _, p := range s.config.compiledAllowList {
		if p.MatchString(match) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping or adjacent ones.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

func anyMatch(patterns []*regexp.Regexp, content string) bool {
	for _, p := range patterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}
