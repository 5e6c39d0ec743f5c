package phasegraph

import (
	"fmt"
	"sort"
)

// WorkflowDefinition declares an executable phase graph.
//
// Phases are listed in declaration order. Execution follows Next from the
// single entry phase; route targets are entered only through remediation.
type WorkflowDefinition struct {
	ID          string            `json:"id" yaml:"id" toml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty" toml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Phases      []PhaseDefinition `json:"phases" yaml:"phases" toml:"phases"`
	Routes      Routes            `json:"routes,omitempty" yaml:"routes,omitempty" toml:"routes"`

	// Populated by Compile.
	index    map[string]int
	entry    string
	chain    []string
	position map[string]int
	triggers map[string]Predicate
}

// Clone returns a deep copy of the declared fields.
func (def WorkflowDefinition) Clone() WorkflowDefinition {
	clone := WorkflowDefinition{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Routes:      def.Routes,
	}
	if len(def.Phases) > 0 {
		clone.Phases = make([]PhaseDefinition, len(def.Phases))
		for i, p := range def.Phases {
			clone.Phases[i] = p.Clone()
		}
	}
	return clone
}

// Validate reports whether def can be registered.
func Validate(def WorkflowDefinition) error {
	_, err := def.Compile()
	return err
}

// Compile normalizes and validates a copy of def and builds its lookup
// tables. The result is immutable by convention.
func (def WorkflowDefinition) Compile() (*WorkflowDefinition, error) {
	c := def.Clone()
	if c.ID == "" {
		return nil, configErr("<unnamed>", "", "id is required")
	}
	if len(c.Phases) == 0 {
		return nil, configErr(c.ID, "", "at least one phase is required")
	}

	c.index = make(map[string]int, len(c.Phases))
	for i := range c.Phases {
		p := &c.Phases[i]
		if p.ID == "" {
			return nil, configErr(c.ID, "", "phase[%d]: id is required", i)
		}
		if _, dup := c.index[p.ID]; dup {
			return nil, configErr(c.ID, p.ID, "duplicate phase id")
		}
		c.index[p.ID] = i
		if p.PredecessorMode == "" {
			p.PredecessorMode = defaultMode(len(p.Predecessors))
		}
	}

	routeTargets := make(map[string]bool)
	for kind, target := range c.Routes.all() {
		if target == "" {
			continue
		}
		if _, ok := c.index[target]; !ok {
			return nil, configErr(c.ID, "", "route %s targets unknown phase %s", kind, target)
		}
		routeTargets[target] = true
	}

	for _, p := range c.Phases {
		if err := c.checkPhase(p, routeTargets[p.ID]); err != nil {
			return nil, err
		}
	}

	if err := c.checkAcyclic(); err != nil {
		return nil, err
	}

	incoming := make(map[string]bool)
	for _, p := range c.Phases {
		if p.Next != "" {
			incoming[p.Next] = true
		}
	}
	var entries []string
	for _, p := range c.Phases {
		if !incoming[p.ID] && !routeTargets[p.ID] {
			entries = append(entries, p.ID)
		}
	}
	switch len(entries) {
	case 0:
		return nil, configErr(c.ID, "", "no entry phase")
	case 1:
		c.entry = entries[0]
	default:
		sort.Strings(entries)
		return nil, configErr(c.ID, "", "multiple entry phases %v", entries)
	}
	if mode := c.Phases[c.index[c.entry]].PredecessorMode; mode != PredecessorNone {
		return nil, configErr(c.ID, c.entry, "entry phase must have predecessor_mode none, got %s", mode)
	}

	c.position = make(map[string]int)
	for id := c.entry; id != ""; id = c.Phases[c.index[id]].Next {
		c.position[id] = len(c.chain)
		c.chain = append(c.chain, id)
	}

	c.triggers = make(map[string]Predicate)
	for _, p := range c.Phases {
		switch p.Type {
		case PhaseRemediation:
			if err := c.checkRemediation(p); err != nil {
				return nil, err
			}
		case PhaseOptional:
			pred, err := ParsePredicate(p.Trigger)
			if err != nil {
				return nil, configErr(c.ID, p.ID, "trigger: %v", err)
			}
			c.triggers[p.ID] = pred
		}
	}

	return &c, nil
}

func defaultMode(n int) PredecessorMode {
	switch n {
	case 0:
		return PredecessorNone
	case 1:
		return PredecessorSingle
	}
	return PredecessorMulti
}

func (c *WorkflowDefinition) checkPhase(p PhaseDefinition, routeTarget bool) error {
	if !ValidPhaseTypes[p.Type] {
		return configErr(c.ID, p.ID, "unknown phase type %q", p.Type)
	}
	if !p.WorkerRole.IsValid() {
		return configErr(c.ID, p.ID, "unknown worker role %q", p.WorkerRole)
	}
	if p.Next != "" {
		if _, ok := c.index[p.Next]; !ok {
			return configErr(c.ID, p.ID, "next phase %s does not exist", p.Next)
		}
	}
	for _, pred := range p.Predecessors {
		if pred == p.ID {
			return configErr(c.ID, p.ID, "phase lists itself as predecessor")
		}
		if _, ok := c.index[pred]; !ok {
			return configErr(c.ID, p.ID, "predecessor %s does not exist", pred)
		}
	}

	switch p.PredecessorMode {
	case PredecessorNone:
		if len(p.Predecessors) > 0 {
			return configErr(c.ID, p.ID, "predecessor_mode none with %d predecessors", len(p.Predecessors))
		}
	case PredecessorSingle:
		// Route targets may leave the list empty; they read the phase that
		// routed to them.
		if len(p.Predecessors) > 1 || (len(p.Predecessors) == 0 && !routeTarget) {
			return configErr(c.ID, p.ID, "predecessor_mode single requires exactly one predecessor")
		}
	case PredecessorMulti:
		if len(p.Predecessors) == 0 {
			return configErr(c.ID, p.ID, "predecessor_mode multi requires predecessors")
		}
	default:
		return configErr(c.ID, p.ID, "unknown predecessor_mode %q", p.PredecessorMode)
	}

	if p.MaxIterations < 0 {
		return configErr(c.ID, p.ID, "max_iterations must be >= 0")
	}
	if p.MinOutputTokens < 0 {
		return configErr(c.ID, p.ID, "min_output_tokens must be >= 0")
	}
	if (p.Type == PhaseRemediation || p.Type == PhaseIterative) && p.MaxIterations < 1 {
		return configErr(c.ID, p.ID, "%s phase requires max_iterations >= 1", p.Type)
	}
	if p.Type != PhaseOptional && p.Trigger != "" {
		return configErr(c.ID, p.ID, "trigger is only valid on optional phases")
	}
	if p.Type != PhaseRemediation && p.RemediationTarget != "" {
		return configErr(c.ID, p.ID, "remediation_target is only valid on remediation phases")
	}
	return nil
}

// checkAcyclic rejects cycles through Next edges. Each phase has at most
// one successor, so a walk longer than the phase count must repeat.
func (c *WorkflowDefinition) checkAcyclic() error {
	for _, start := range c.Phases {
		steps := 0
		for id := start.Next; id != ""; id = c.Phases[c.index[id]].Next {
			if id == start.ID || steps > len(c.Phases) {
				return configErr(c.ID, start.ID, "cycle through next edges")
			}
			steps++
		}
	}
	return nil
}

func (c *WorkflowDefinition) checkRemediation(p PhaseDefinition) error {
	if p.RemediationTarget == "" {
		return configErr(c.ID, p.ID, "remediation phase requires remediation_target")
	}
	if _, ok := c.index[p.RemediationTarget]; !ok {
		return configErr(c.ID, p.ID, "remediation target %s does not exist", p.RemediationTarget)
	}
	self, ok := c.position[p.ID]
	if !ok {
		return configErr(c.ID, p.ID, "remediation phase is not reachable from the entry phase")
	}
	target, ok := c.position[p.RemediationTarget]
	if !ok {
		return configErr(c.ID, p.ID, "remediation target %s is unreachable", p.RemediationTarget)
	}
	if target >= self {
		return configErr(c.ID, p.ID, "remediation target %s does not precede the phase", p.RemediationTarget)
	}
	return nil
}

// Phase returns the phase with id.
func (def *WorkflowDefinition) Phase(id string) (PhaseDefinition, bool) {
	i, ok := def.index[id]
	if !ok {
		return PhaseDefinition{}, false
	}
	return def.Phases[i], true
}

// MustPhase returns the phase with id or a ConfigurationError.
func (def *WorkflowDefinition) MustPhase(id string) (PhaseDefinition, error) {
	p, ok := def.Phase(id)
	if !ok {
		return PhaseDefinition{}, &ConfigurationError{
			WorkflowID: def.ID,
			PhaseID:    id,
			Reason:     "phase not found",
			Err:        fmt.Errorf("%w: %s", ErrPhaseNotFound, id),
		}
	}
	return p, nil
}

// Entry returns the entry phase id.
func (def *WorkflowDefinition) Entry() string {
	return def.entry
}

// Chain returns the phase ids reached by following Next from the entry.
func (def *WorkflowDefinition) Chain() []string {
	return append([]string(nil), def.chain...)
}

// Position returns the index of id within Chain.
func (def *WorkflowDefinition) Position(id string) (int, bool) {
	pos, ok := def.position[id]
	return pos, ok
}

// RouteTarget returns the phase declared for kind, or "".
func (def *WorkflowDefinition) RouteTarget(kind RouteKind) string {
	return def.Routes.Target(kind)
}

// IsRouteTarget reports whether id is declared as any route target.
func (def *WorkflowDefinition) IsRouteTarget(id string) bool {
	for _, target := range def.Routes.all() {
		if target != "" && target == id {
			return true
		}
	}
	return false
}

// Triggered reports whether the phase should run given task metadata.
// Phases other than Optional always run.
func (def *WorkflowDefinition) Triggered(id string, metadata map[string]string) bool {
	pred, ok := def.triggers[id]
	if !ok {
		return true
	}
	return pred.Eval(metadata)
}

// PhaseIDs returns phase ids in declaration order.
func (def *WorkflowDefinition) PhaseIDs() []string {
	ids := make([]string, len(def.Phases))
	for i, p := range def.Phases {
		ids[i] = p.ID
	}
	return ids
}
