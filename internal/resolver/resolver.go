// Package resolver decides which prior artifacts a phase reads.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

const instrumentationName = "github.com/skribblez2718/penny-sub000/internal/resolver"

// ErrMissingPredecessor means a declared predecessor has produced nothing
// yet for the task, which is a graph ordering defect.
var ErrMissingPredecessor = errors.New("predecessor artifact missing")

// Context is the input assembled for one phase invocation.
type Context struct {
	PhaseID string `json:"phase_id"`

	// Artifacts are ordered: declared predecessors first, then detour
	// artifacts recorded for this phase.
	Artifacts []*artifact.Artifact `json:"artifacts"`

	Metadata     map[string]string        `json:"metadata,omitempty"`
	Guidance     []string                 `json:"guidance,omitempty"`
	OpenUnknowns []artifact.UnknownRecord `json:"open_unknowns,omitempty"`
}

// Resolver reads committed artifact refs through an artifact.Store.
type Resolver struct {
	store  artifact.Store
	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Resolver.
func New(store artifact.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		logger: zap.NewNop(),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the context for phase.
//
// Mode none yields metadata only. Mode single yields the predecessor's
// latest artifact; a route target with an empty list reads the phase that
// routed to it. Mode multi yields the latest artifact of each predecessor in
// declaration order. Artifacts from detours that return to phase follow.
func (r *Resolver) Resolve(ctx context.Context, def *phasegraph.WorkflowDefinition, phase phasegraph.PhaseDefinition, inst *taskstate.TaskInstance) (*Context, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", inst.TaskID),
		attribute.String("phase.id", phase.ID),
		attribute.String("phase.predecessor_mode", string(phase.PredecessorMode)),
	)

	out := &Context{
		PhaseID:      phase.ID,
		Metadata:     copyMap(inst.Metadata),
		Guidance:     append([]string(nil), inst.Guidance...),
		OpenUnknowns: inst.Unknowns.Open(),
	}

	var preds []string
	switch phase.PredecessorMode {
	case phasegraph.PredecessorNone:
	case phasegraph.PredecessorSingle:
		preds = phase.Predecessors
		if len(preds) == 0 {
			if from := routedFrom(inst, phase.ID); from != "" {
				preds = []string{from}
			}
		}
	case phasegraph.PredecessorMulti:
		preds = phase.Predecessors
	}

	seen := make(map[string]bool)
	for _, pred := range preds {
		id, ok := inst.LatestArtifact(pred)
		if !ok {
			if p, found := def.Phase(pred); found && p.Type == phasegraph.PhaseOptional {
				r.logger.Debug("optional predecessor skipped",
					zap.String("phase", phase.ID), zap.String("predecessor", pred))
				continue
			}
			span.RecordError(ErrMissingPredecessor)
			return nil, &phasegraph.ConfigurationError{
				WorkflowID: def.ID,
				PhaseID:    phase.ID,
				Reason:     fmt.Sprintf("predecessor %s has no artifact for task %s", pred, inst.TaskID),
				Err:        fmt.Errorf("%w: %s", ErrMissingPredecessor, pred),
			}
		}
		if err := r.add(ctx, out, id, seen); err != nil {
			return nil, err
		}
	}

	if phase.PredecessorMode != phasegraph.PredecessorNone {
		for _, hop := range inst.Hops {
			if hop.ReturnTo != phase.ID {
				continue
			}
			id, ok := inst.LatestArtifact(hop.To)
			if !ok {
				continue
			}
			if err := r.add(ctx, out, id, seen); err != nil {
				return nil, err
			}
		}
	}

	span.SetAttributes(attribute.Int("artifacts", len(out.Artifacts)))
	return out, nil
}

func (r *Resolver) add(ctx context.Context, out *Context, id string, seen map[string]bool) error {
	if seen[id] {
		return nil
	}
	seen[id] = true
	a, err := r.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve artifact %s: %w", id, err)
	}
	out.Artifacts = append(out.Artifacts, a)
	return nil
}

// routedFrom returns the phase that most recently routed to target.
func routedFrom(inst *taskstate.TaskInstance, target string) string {
	for i := len(inst.Hops) - 1; i >= 0; i-- {
		if inst.Hops[i].To == target {
			return inst.Hops[i].From
		}
	}
	return ""
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
