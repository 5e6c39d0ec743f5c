// Package compression fits a phase's history into a token budget.
//
// Each history entry is sized by its age relative to the active phase:
//
//   - age 1 stays verbatim (level 1)
//   - age 2 becomes a bounded decision summary (level 2)
//   - age 3 and older becomes a residue of decisions, rationale and open
//     items (level 3)
//
// Every level is built from a subset of the verbatim text, so compression
// never expands an entry. An entry already at or above its target level is
// returned unchanged, which makes Compress idempotent. Open unknowns are
// carried verbatim outside the entries and are never dropped.
//
// When the budget cannot be met even after every entry is reduced to
// residue, Compress fails with ErrOverBudget instead of cutting further.
package compression
