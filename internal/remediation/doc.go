// Package remediation maps impasse verdicts to engine actions.
//
// The dispatcher is a fixed response matrix guarded by retry counters:
//
//	Conflict          -> route to the clarification phase
//	MissingKnowledge  -> route to the research phase
//	Tie               -> route to the analysis phase
//	NoChange          -> reinvoke the same phase
//	None              -> continue
//
// Once the relevant counter reaches its ceiling, or the route target is not
// declared, the decision becomes Escalate. Decide never mutates its inputs;
// the engine increments counters when it applies the decision.
package remediation
