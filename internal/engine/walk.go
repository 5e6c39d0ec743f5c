package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/compression"
	"github.com/skribblez2718/penny-sub000/internal/gateway"
	"github.com/skribblez2718/penny-sub000/internal/impasse"
	"github.com/skribblez2718/penny-sub000/internal/logging"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/remediation"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// errAbortRequested unwinds a step when an abort was requested.
var errAbortRequested = errors.New("abort requested")

// Payload is what a worker receives for one phase.
type Payload struct {
	TaskID       string                   `json:"task_id"`
	WorkflowID   string                   `json:"workflow_id"`
	PhaseID      string                   `json:"phase_id"`
	Metadata     map[string]string        `json:"metadata,omitempty"`
	Guidance     []string                 `json:"guidance,omitempty"`
	OpenUnknowns []artifact.UnknownRecord `json:"open_unknowns,omitempty"`
	History      compression.History      `json:"history"`
}

// walk is one synchronous pass over a task.
type walk struct {
	e       *Engine
	def     *phasegraph.WorkflowDefinition
	inst    *taskstate.TaskInstance
	handle  *handle
	state   State
	reloads int

	verdict  *impasse.Verdict
	decision *remediation.Decision
}

func (e *Engine) newWalk(def *phasegraph.WorkflowDefinition, inst *taskstate.TaskInstance, h *handle) *walk {
	w := &walk{e: e, def: def, inst: inst, handle: h, state: StateIdle}
	if inst.Status == taskstate.StatusWaitingExternalInput {
		w.state = StateWaitingExternalInput
	}
	return w
}

func (e *Engine) run(ctx context.Context, w *walk) (*Outcome, error) {
	for {
		if reason, ok := w.handle.abortRequested(); ok && !w.inst.Status.IsTerminal() {
			return w.abort(ctx, reason)
		}
		if w.inst.Status.IsTerminal() || w.inst.Status == taskstate.StatusWaitingExternalInput {
			return w.outcome(), nil
		}
		if err := ctx.Err(); err != nil {
			return w.outcome(), err
		}

		err := w.step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errAbortRequested):
			reason, _ := w.handle.abortRequested()
			return w.abort(ctx, reason)
		case errors.Is(err, taskstate.ErrVersionConflict):
			if rerr := w.reload(ctx, err); rerr != nil {
				return w.outcome(), rerr
			}
		default:
			return w.outcome(), err
		}
	}
}

// step advances the current phase from Loading through Transitioning.
func (w *walk) step(ctx context.Context) error {
	e := w.e
	phase, err := w.def.MustPhase(w.inst.CurrentPhaseID)
	if err != nil {
		return err
	}
	ctx = logging.WithPhase(ctx, phase.ID)
	ctx, span := e.tracer.Start(ctx, "engine.phase", trace.WithAttributes(
		attribute.String("task.id", w.inst.TaskID),
		attribute.String("phase.id", phase.ID),
		attribute.String("phase.type", string(phase.Type)),
	))
	defer span.End()
	started := e.now()

	if w.state != StateLoading {
		if err := w.enter(StateLoading); err != nil {
			return err
		}
	}

	if !w.def.Triggered(phase.ID, w.inst.Metadata) {
		return w.skip(ctx, phase)
	}

	// Resolving
	if err := w.boundary(); err != nil {
		return err
	}
	w.inst.Status = taskstate.StatusRunning
	if err := w.commit(ctx, StateResolving); err != nil {
		return err
	}
	rctx, err := e.resolver.Resolve(ctx, w.def, phase, w.inst)
	if err != nil {
		span.RecordError(err)
		return err
	}
	// Predecessors are declared in any order; age follows commit order.
	ordered := compression.FromArtifacts(rctx.Artifacts, rctx.OpenUnknowns).AgeByRecency(w.inst.History)
	history, err := e.compressor.Compress(ctx, ordered, 1)
	if errors.Is(err, compression.ErrOverBudget) {
		e.logger.Warn(ctx, "context over budget", zap.Error(err))
		esc := newEscalation(phase, escalationBudget, err.Error(), nil, w.hasArtifact(phase.ID), e.now())
		return w.escalate(ctx, phase, esc)
	}
	if err != nil {
		return err
	}

	// Invoking
	if err := w.boundary(); err != nil {
		return err
	}
	w.inst.Status = taskstate.StatusWaitingWorker
	if err := w.commit(ctx, StateInvoking); err != nil {
		return err
	}
	req := gateway.Request{
		TaskID:     w.inst.TaskID,
		PhaseID:    phase.ID,
		WorkerRole: phase.WorkerRole,
		ContentRef: phase.ContentRef,
		Attempt:    len(w.inst.ArtifactRefs[phase.ID]) + 1,
		Payload: Payload{
			TaskID:       w.inst.TaskID,
			WorkflowID:   w.inst.WorkflowID,
			PhaseID:      phase.ID,
			Metadata:     rctx.Metadata,
			Guidance:     rctx.Guidance,
			OpenUnknowns: rctx.OpenUnknowns,
			History:      history,
		},
	}
	result, err := e.gateway.Invoke(ctx, req)
	if we, ok := gateway.AsWorkerError(err); ok {
		e.logger.Warn(ctx, "worker failed, continuing with degenerate result",
			zap.String("kind", string(we.Kind)), zap.Error(err))
		result = degenerate(w.inst.TaskID, phase, we, e.now())
	} else if err != nil {
		return err
	}

	// Evaluating
	if err := w.boundary(); err != nil {
		return err
	}
	w.inst.Status = taskstate.StatusRunning
	if err := w.commit(ctx, StateEvaluating); err != nil {
		return err
	}
	hist, err := w.impasseHistory(ctx, phase)
	if err != nil {
		return err
	}
	verdict := e.monitor.Evaluate(result, hist)
	w.verdict = &verdict
	Verdicts.WithLabelValues(string(verdict.Type)).Inc()
	span.SetAttributes(attribute.String("verdict", string(verdict.Type)))

	// Transitioning
	if err := w.enter(StateTransitioning); err != nil {
		return err
	}
	if err := w.transition(ctx, phase, result, verdict); err != nil {
		if !errors.Is(err, taskstate.ErrVersionConflict) {
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	PhaseDuration.WithLabelValues(phase.ID).Observe(e.now().Sub(started).Seconds())
	return nil
}

// transition records the result and applies the remediation decision in a
// single commit.
func (w *walk) transition(ctx context.Context, phase phasegraph.PhaseDefinition, result *artifact.Artifact, verdict impasse.Verdict) error {
	e := w.e
	inst := w.inst

	if !result.Degenerate {
		result.ProducedAt = e.now()
		if err := e.artifacts.Put(ctx, result); err != nil {
			return fmt.Errorf("store artifact: %w", err)
		}
		inst.RecordArtifact(phase.ID, result.ID)
		w.applyUnknowns(ctx, phase, result)
	}
	inst.LastVerdict = string(verdict.Type)

	decision := e.dispatcher.Decide(verdict, w.def, phase, inst)
	w.decision = &decision
	Decisions.WithLabelValues(string(decision.Action)).Inc()
	e.logger.Info(ctx, "phase evaluated",
		zap.String("verdict", string(verdict.Type)),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("action", string(decision.Action)),
		zap.String("target", decision.TargetPhaseID))

	switch decision.Action {
	case remediation.Continue:
		return w.advance(ctx, phase, result)

	case remediation.ReinvokeSamePhase:
		inst.Increment(decision.CounterKey)
		return w.moveTo(ctx, phase, phase.ID, decision)

	case remediation.RouteToPhase:
		inst.Increment(decision.CounterKey)
		kind, _ := remediation.RouteFor(verdict.Type)
		returnTo := phase.Next
		if returnTo == "" {
			returnTo = inst.ResumePhaseID
		}
		inst.Hops = append(inst.Hops, taskstate.Hop{
			From:     phase.ID,
			To:       decision.TargetPhaseID,
			Route:    kind,
			Verdict:  string(verdict.Type),
			ReturnTo: returnTo,
			At:       e.now(),
		})
		inst.ResumePhaseID = returnTo
		return w.moveTo(ctx, phase, decision.TargetPhaseID, decision)

	case remediation.Escalate:
		kind := escalationKindFor(verdict.Type)
		reason := decision.Reason
		if decision.Exhausted {
			reason = fmt.Sprintf("%s: %s", ErrImpasseExceeded, reason)
		}
		esc := newEscalation(phase, kind, reason, result.Options, w.hasArtifact(phase.ID), e.now())
		return w.escalate(ctx, phase, esc)

	case remediation.Abort:
		inst.Status = taskstate.StatusAborted
		inst.AbortReason = decision.Reason
		return w.finish(ctx, phase, StateAborted)
	}
	return fmt.Errorf("unhandled remediation action %q", decision.Action)
}

// advance applies Continue, honoring Iterative loops and Remediation
// back-edges before following Next.
func (w *walk) advance(ctx context.Context, phase phasegraph.PhaseDefinition, result *artifact.Artifact) error {
	inst := w.inst
	decision := *w.decision

	switch phase.Type {
	case phasegraph.PhaseIterative:
		if result.Continue {
			key := remediation.IterateKey(phase.ID)
			if inst.Counter(key) < phase.MaxIterations {
				inst.Increment(key)
				decision.Reason = "iterating"
				return w.moveTo(ctx, phase, phase.ID, decision)
			}
			w.e.logger.Info(ctx, "iteration bound reached", zap.Int("max_iterations", phase.MaxIterations))
		}
	case phasegraph.PhaseRemediation:
		if result.RequiresRework {
			key := remediation.ReworkKey(phase.ID)
			if inst.Counter(key) < phase.MaxIterations {
				inst.Increment(key)
				decision.Reason = "rework requested"
				return w.moveTo(ctx, phase, phase.RemediationTarget, decision)
			}
			reason := fmt.Sprintf("%s: phase %s still requires rework after %d passes", ErrImpasseExceeded, phase.ID, phase.MaxIterations)
			esc := newEscalation(phase, escalationRework, reason, nil, true, w.e.now())
			return w.escalate(ctx, phase, esc)
		}
	}

	next := w.nextPhase(phase.Next)
	if next == "" {
		inst.Status = taskstate.StatusCompleted
		return w.finish(ctx, phase, StateCompleted)
	}
	return w.moveTo(ctx, phase, next, decision)
}

// nextPhase resolves the successor id, returning to the detour resume
// point when the chain ends. "" means the task is complete.
func (w *walk) nextPhase(next string) string {
	if next == "" && w.inst.ResumePhaseID != "" {
		next = w.inst.ResumePhaseID
		w.inst.ResumePhaseID = ""
	}
	return next
}

func (w *walk) moveTo(ctx context.Context, from phasegraph.PhaseDefinition, to string, decision remediation.Decision) error {
	w.inst.CurrentPhaseID = to
	w.inst.Status = taskstate.StatusRunning
	if err := w.commit(ctx, StateIdle); err != nil {
		return err
	}
	w.e.emit(ctx, w.inst, Event{
		Type:      EventTransition,
		PhaseID:   from.ID,
		NextPhase: to,
		Verdict:   w.inst.LastVerdict,
		Action:    string(decision.Action),
		Reason:    decision.Reason,
	})
	return nil
}

// skip passes over an Optional phase whose trigger does not hold.
func (w *walk) skip(ctx context.Context, phase phasegraph.PhaseDefinition) error {
	if err := w.enter(StateTransitioning); err != nil {
		return err
	}
	next := w.nextPhase(phase.Next)
	w.e.logger.Debug(ctx, "optional phase skipped", zap.String("trigger", phase.Trigger), zap.String("next", next))
	if next == "" {
		w.inst.Status = taskstate.StatusCompleted
		return w.finish(ctx, phase, StateCompleted)
	}
	w.inst.CurrentPhaseID = next
	if err := w.commit(ctx, StateIdle); err != nil {
		return err
	}
	w.e.emit(ctx, w.inst, Event{Type: EventSkipped, PhaseID: phase.ID, NextPhase: next, Reason: "trigger " + phase.Trigger + " is false"})
	return nil
}

func (w *walk) escalate(ctx context.Context, phase phasegraph.PhaseDefinition, esc *taskstate.Escalation) error {
	w.inst.Status = taskstate.StatusWaitingExternalInput
	w.inst.PendingEscalation = esc
	if err := w.commit(ctx, StateWaitingExternalInput); err != nil {
		return err
	}
	w.e.logger.Warn(ctx, "task escalated", zap.String("reason", esc.Reason), zap.Int("questions", len(esc.Questions)))
	w.e.emit(ctx, w.inst, Event{Type: EventEscalated, PhaseID: phase.ID, Reason: esc.Reason, Escalation: esc, Verdict: w.inst.LastVerdict})
	return nil
}

func (w *walk) finish(ctx context.Context, phase phasegraph.PhaseDefinition, to State) error {
	if err := w.commit(ctx, to); err != nil {
		return err
	}
	TasksFinished.WithLabelValues(string(w.inst.Status)).Inc()
	ev := Event{Type: EventCompleted, PhaseID: phase.ID}
	if to == StateAborted {
		ev = Event{Type: EventAborted, PhaseID: phase.ID, Reason: w.inst.AbortReason}
	}
	w.e.logger.Info(ctx, "task finished", zap.String("status", string(w.inst.Status)))
	w.e.emit(ctx, w.inst, ev)
	return nil
}

// abort commits the Aborted status from the current state.
func (w *walk) abort(ctx context.Context, reason string) (*Outcome, error) {
	w.inst.Status = taskstate.StatusAborted
	w.inst.AbortReason = reason
	w.inst.PendingEscalation = nil
	phase, _ := w.def.Phase(w.inst.CurrentPhaseID)
	if err := w.finish(ctx, phase, StateAborted); err != nil {
		return w.outcome(), err
	}
	return w.outcome(), nil
}

// enter moves the in-memory state without a commit.
func (w *walk) enter(to State) error {
	if !w.state.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.state, to)
	}
	w.state = to
	return nil
}

// commit persists the instance at state to.
func (w *walk) commit(ctx context.Context, to State) error {
	from := w.state
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	w.inst.Stage = string(to)
	if err := w.e.tasks.Commit(ctx, w.inst, w.inst.Version); err != nil {
		return fmt.Errorf("commit %s: %w", to, err)
	}
	w.state = to
	StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// boundary reports a pending abort request.
func (w *walk) boundary() error {
	if _, ok := w.handle.abortRequested(); ok {
		return errAbortRequested
	}
	return nil
}

// reload replaces the instance after a version conflict.
func (w *walk) reload(ctx context.Context, cause error) error {
	VersionConflicts.Inc()
	w.reloads++
	if w.reloads > w.e.conflictReloads {
		return fmt.Errorf("giving up after %d reloads: %w", w.reloads-1, cause)
	}
	inst, err := w.e.tasks.Load(ctx, w.inst.TaskID)
	if err != nil {
		return err
	}
	w.e.logger.Debug(ctx, "version conflict, reloaded task",
		zap.Int64("version", inst.Version), zap.String("stage", inst.Stage))
	w.inst = inst
	w.state = StateIdle
	if inst.Status == taskstate.StatusWaitingExternalInput {
		w.state = StateWaitingExternalInput
	}
	return nil
}

func (w *walk) applyUnknowns(ctx context.Context, phase phasegraph.PhaseDefinition, result *artifact.Artifact) {
	if w.inst.Unknowns == nil {
		w.inst.Unknowns = make(artifact.Ledger)
	}
	for _, u := range result.Unknowns {
		if _, known := w.inst.Unknowns[u.ID]; !known && u.OriginPhase == "" {
			u.OriginPhase = phase.ID
		}
		if err := w.inst.Unknowns.Apply(u); err != nil {
			w.e.logger.Warn(ctx, "unknown status update rejected", zap.String("unknown", u.ID), zap.Error(err))
		}
	}
}

// impasseHistory gathers the committed context the monitor judges against.
func (w *walk) impasseHistory(ctx context.Context, phase phasegraph.PhaseDefinition) (impasse.History, error) {
	h := impasse.History{
		Unknowns:        w.inst.Unknowns.Clone(),
		MinOutputTokens: phase.MinOutputTokens,
	}
	for _, id := range w.inst.History {
		a, err := w.e.artifacts.Get(ctx, id)
		if err != nil {
			return h, fmt.Errorf("load artifact %s: %w", id, err)
		}
		h.Decisions = append(h.Decisions, a.Decisions...)
	}
	if id, ok := w.inst.LatestArtifact(phase.ID); ok {
		prev, err := w.e.artifacts.Get(ctx, id)
		if err != nil {
			return h, fmt.Errorf("load previous attempt %s: %w", id, err)
		}
		h.Previous = prev
	}
	return h, nil
}

func (w *walk) hasArtifact(phaseID string) bool {
	_, ok := w.inst.LatestArtifact(phaseID)
	return ok
}

func (w *walk) outcome() *Outcome {
	out := outcomeOf(w.inst)
	out.Verdict = w.verdict
	out.Decision = w.decision
	return out
}

func degenerate(taskID string, phase phasegraph.PhaseDefinition, we *gateway.WorkerError, now time.Time) *artifact.Artifact {
	return &artifact.Artifact{
		TaskID:     taskID,
		PhaseID:    phase.ID,
		WorkerRole: phase.WorkerRole,
		ProducedAt: now,
		Body:       fmt.Sprintf("worker %s error: %v", we.Kind, we.Err),
		Degenerate: true,
	}
}
