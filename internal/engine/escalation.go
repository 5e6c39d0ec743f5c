package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/impasse"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// Question ids and the choices of the action question.
const (
	QuestionAction   = "action"
	QuestionGuidance = "guidance"
	QuestionChoice   = "choice"

	AnswerRetry    = "retry"
	AnswerContinue = "continue"
	AnswerAbort    = "abort"
)

type escalationKind string

const (
	escalationConflict escalationKind = "conflict"
	escalationMissing  escalationKind = "missing_knowledge"
	escalationTie      escalationKind = "tie"
	escalationNoChange escalationKind = "no_change"
	escalationBudget   escalationKind = "budget"
	escalationRework   escalationKind = "rework"
)

var escalationPrompts = map[escalationKind]string{
	escalationConflict: "The phase contradicts an earlier decision. How should it proceed?",
	escalationMissing:  "The phase is missing information it could not obtain. How should it proceed?",
	escalationTie:      "The phase could not choose between equally ranked options. How should it proceed?",
	escalationNoChange: "The phase keeps producing the same or empty output. How should it proceed?",
	escalationBudget:   "The context for this phase exceeds the token budget. How should it proceed?",
	escalationRework:   "The phase still requires rework after its allowed passes. How should it proceed?",
}

func escalationKindFor(v impasse.Type) escalationKind {
	switch v {
	case impasse.Conflict:
		return escalationConflict
	case impasse.MissingKnowledge:
		return escalationMissing
	case impasse.Tie:
		return escalationTie
	default:
		return escalationNoChange
	}
}

// newEscalation builds the question set for phase. continue is offered only
// when the phase has a committed artifact to continue from.
func newEscalation(phase phasegraph.PhaseDefinition, kind escalationKind, reason string, options []artifact.Option, canContinue bool, now time.Time) *taskstate.Escalation {
	actions := []string{AnswerRetry}
	if canContinue {
		actions = append(actions, AnswerContinue)
	}
	actions = append(actions, AnswerAbort)

	qs := []taskstate.Question{{
		ID:      QuestionAction,
		Prompt:  escalationPrompts[kind],
		Options: actions,
	}}
	if kind == escalationTie && len(options) > 0 {
		choices := make([]string, 0, len(options))
		for _, o := range options {
			choices = append(choices, o.Description)
		}
		qs = append(qs, taskstate.Question{
			ID:            QuestionChoice,
			Prompt:        "Which option should the phase pursue?",
			Options:       choices,
			AllowFreeText: true,
		})
	}
	qs = append(qs, taskstate.Question{
		ID:            QuestionGuidance,
		Prompt:        "Any guidance for the next attempt?",
		AllowFreeText: true,
	})

	return &taskstate.Escalation{
		ID:        uuid.NewString(),
		PhaseID:   phase.ID,
		Reason:    reason,
		Questions: qs,
		RaisedAt:  now,
	}
}

// answerSet is a validated response to an escalation.
type answerSet struct {
	action   string
	guidance []string
}

// parseAnswers checks answers against the escalation. Every question with
// options must be answered; free text is accepted only where allowed.
func parseAnswers(esc *taskstate.Escalation, answers map[string]string) (answerSet, error) {
	var set answerSet
	known := make(map[string]bool, len(esc.Questions))

	for _, q := range esc.Questions {
		known[q.ID] = true
		raw, ok := answers[q.ID]
		ans := strings.TrimSpace(raw)
		if !ok || ans == "" {
			if len(q.Options) > 0 && !q.AllowFreeText {
				return set, fmt.Errorf("%w: question %q requires one of %s", ErrInvalidAnswer, q.ID, strings.Join(q.Options, ", "))
			}
			continue
		}
		if len(q.Options) > 0 && !q.AllowFreeText && !slices.Contains(q.Options, ans) {
			return set, fmt.Errorf("%w: %q is not an option for %q", ErrInvalidAnswer, ans, q.ID)
		}

		switch q.ID {
		case QuestionAction:
			set.action = ans
		case QuestionChoice:
			set.guidance = append(set.guidance, "Pursue option: "+ans)
		default:
			set.guidance = append(set.guidance, ans)
		}
	}

	for id := range answers {
		if !known[id] {
			return set, fmt.Errorf("%w: unknown question %q", ErrInvalidAnswer, id)
		}
	}
	if set.action == "" {
		set.action = AnswerRetry
	}
	return set, nil
}

// applyAnswer commits the answer out of WaitingExternalInput.
func (w *walk) applyAnswer(ctx context.Context, a answerSet) error {
	inst := w.inst
	esc := inst.PendingEscalation
	phase, err := w.def.MustPhase(inst.CurrentPhaseID)
	if err != nil {
		return err
	}

	inst.Guidance = append(inst.Guidance, a.guidance...)
	inst.PendingEscalation = nil

	w.e.logger.Info(ctx, "escalation answered", zap.String("action", a.action), zap.Int("guidance", len(a.guidance)))

	switch a.action {
	case AnswerAbort:
		reason := "aborted at escalation"
		if esc != nil {
			reason += ": " + esc.Reason
		}
		inst.Status = taskstate.StatusAborted
		inst.AbortReason = reason
		return w.finish(ctx, phase, StateAborted)

	case AnswerContinue:
		next := w.nextPhase(phase.Next)
		if next == "" {
			inst.Status = taskstate.StatusCompleted
			return w.finish(ctx, phase, StateCompleted)
		}
		inst.CurrentPhaseID = next
	}

	inst.Status = taskstate.StatusRunning
	if err := w.commit(ctx, StateLoading); err != nil {
		return err
	}
	w.e.emit(ctx, inst, Event{Type: EventAnswered, PhaseID: phase.ID, NextPhase: inst.CurrentPhaseID, Action: a.action})
	return nil
}
