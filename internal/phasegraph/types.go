package phasegraph

// PhaseType selects how the engine advances out of a phase.
type PhaseType string

const (
	// PhaseLinear advances to Next on Continue.
	PhaseLinear PhaseType = "linear"
	// PhaseOptional runs only when its trigger predicate holds.
	PhaseOptional PhaseType = "optional"
	// PhaseIterative repeats while the worker asks to continue.
	PhaseIterative PhaseType = "iterative"
	// PhaseRemediation may send execution back to an earlier phase.
	PhaseRemediation PhaseType = "remediation"
	// PhaseParallel fans out conceptually; the engine runs it as one call.
	PhaseParallel PhaseType = "parallel"
)

// ValidPhaseTypes lists the accepted phase types.
var ValidPhaseTypes = map[PhaseType]bool{
	PhaseLinear:      true,
	PhaseOptional:    true,
	PhaseIterative:   true,
	PhaseRemediation: true,
	PhaseParallel:    true,
}

// WorkerRole is the finite set of roles a phase can bind to.
type WorkerRole string

const (
	RoleClarifier   WorkerRole = "clarifier"
	RoleResearcher  WorkerRole = "researcher"
	RoleAnalyst     WorkerRole = "analyst"
	RoleSynthesizer WorkerRole = "synthesizer"
	RoleGenerator   WorkerRole = "generator"
	RoleValidator   WorkerRole = "validator"
	RoleCritic      WorkerRole = "critic"
	RolePlanner     WorkerRole = "planner"
)

// ValidRoles lists the accepted worker roles.
var ValidRoles = map[WorkerRole]bool{
	RoleClarifier:   true,
	RoleResearcher:  true,
	RoleAnalyst:     true,
	RoleSynthesizer: true,
	RoleGenerator:   true,
	RoleValidator:   true,
	RoleCritic:      true,
	RolePlanner:     true,
}

// IsValid reports whether r is one of the declared roles.
func (r WorkerRole) IsValid() bool {
	return ValidRoles[r]
}

// PredecessorMode controls which prior artifacts a phase reads.
type PredecessorMode string

const (
	PredecessorNone   PredecessorMode = "none"
	PredecessorSingle PredecessorMode = "single"
	PredecessorMulti  PredecessorMode = "multi"
)

// RouteKind names a declared alternate target used by remediation.
type RouteKind string

const (
	RouteClarification RouteKind = "clarification"
	RouteResearch      RouteKind = "research"
	RouteAnalysis      RouteKind = "analysis"
)

// PhaseDefinition is one node of a workflow graph.
type PhaseDefinition struct {
	ID              string          `json:"id" yaml:"id" toml:"id"`
	Type            PhaseType       `json:"type" yaml:"type" toml:"type"`
	WorkerRole      WorkerRole      `json:"worker_role" yaml:"worker_role" toml:"worker_role"`
	ContentRef      string          `json:"content_ref,omitempty" yaml:"content_ref,omitempty" toml:"content_ref"`
	Next            string          `json:"next,omitempty" yaml:"next,omitempty" toml:"next"`
	PredecessorMode PredecessorMode `json:"predecessor_mode" yaml:"predecessor_mode" toml:"predecessor_mode"`
	Predecessors    []string        `json:"predecessors,omitempty" yaml:"predecessors,omitempty" toml:"predecessors"`

	// MaxIterations bounds Remediation back-edges and Iterative loops. When
	// set on any phase it is also that phase's retry ceiling.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" toml:"max_iterations"`

	// Trigger is the predicate gating an Optional phase.
	Trigger string `json:"trigger,omitempty" yaml:"trigger,omitempty" toml:"trigger"`

	// RemediationTarget is the earlier phase a Remediation phase returns to.
	RemediationTarget string `json:"remediation_target,omitempty" yaml:"remediation_target,omitempty" toml:"remediation_target"`

	// MinOutputTokens is the expected minimum artifact size; 0 disables.
	MinOutputTokens int `json:"min_output_tokens,omitempty" yaml:"min_output_tokens,omitempty" toml:"min_output_tokens"`
}

// IsTerminal reports whether the phase has no successor.
func (p PhaseDefinition) IsTerminal() bool {
	return p.Next == ""
}

// Clone returns a deep copy of the phase.
func (p PhaseDefinition) Clone() PhaseDefinition {
	clone := p
	if len(p.Predecessors) > 0 {
		clone.Predecessors = append([]string(nil), p.Predecessors...)
	}
	return clone
}

// Routes holds the alternate targets used for Conflict, MissingKnowledge and
// Tie remediation. Empty means undeclared.
type Routes struct {
	Clarification string `json:"clarification,omitempty" yaml:"clarification,omitempty" toml:"clarification"`
	Research      string `json:"research,omitempty" yaml:"research,omitempty" toml:"research"`
	Analysis      string `json:"analysis,omitempty" yaml:"analysis,omitempty" toml:"analysis"`
}

// Target returns the phase id declared for kind.
func (r Routes) Target(kind RouteKind) string {
	switch kind {
	case RouteClarification:
		return r.Clarification
	case RouteResearch:
		return r.Research
	case RouteAnalysis:
		return r.Analysis
	}
	return ""
}

func (r Routes) all() map[RouteKind]string {
	return map[RouteKind]string{
		RouteClarification: r.Clarification,
		RouteResearch:      r.Research,
		RouteAnalysis:      r.Analysis,
	}
}
