// Package engine drives tasks through their workflow graphs.
//
// Each call walks one task synchronously: load, resolve context, invoke the
// worker, evaluate the result, transition. Every state change is committed
// through the task store before the next one begins, so a restart resumes
// from the last committed phase and never repeats it.
//
// Only one walk may hold a task at a time. Distinct tasks walk concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/compression"
	"github.com/skribblez2718/penny-sub000/internal/gateway"
	"github.com/skribblez2718/penny-sub000/internal/impasse"
	"github.com/skribblez2718/penny-sub000/internal/logging"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/remediation"
	"github.com/skribblez2718/penny-sub000/internal/resolver"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

const (
	instrumentationName    = "github.com/skribblez2718/penny-sub000/internal/engine"
	defaultConflictReloads = 3
)

// Invoker calls the worker for one phase. *gateway.Gateway implements it.
type Invoker interface {
	Invoke(ctx context.Context, req gateway.Request) (*artifact.Artifact, error)
}

// Deps are the collaborators of an Engine. Registry, Tasks, Artifacts and
// Gateway are required; the rest default from them.
type Deps struct {
	Registry   *phasegraph.Registry
	Tasks      taskstate.Store
	Artifacts  artifact.Store
	Gateway    Invoker
	Resolver   *resolver.Resolver
	Compressor *compression.Compressor
	Monitor    *impasse.Monitor
	Dispatcher *remediation.Dispatcher
}

// Outcome is the result of an engine operation.
type Outcome struct {
	Task        *taskstate.TaskInstance `json:"task"`
	Escalation  *taskstate.Escalation   `json:"escalation,omitempty"`
	AbortReason string                  `json:"abort_reason,omitempty"`

	// Verdict and Decision are from the last phase evaluated by this call.
	Verdict  *impasse.Verdict      `json:"verdict,omitempty"`
	Decision *remediation.Decision `json:"decision,omitempty"`

	// AbortPending is set when Abort was requested during an active walk.
	AbortPending bool `json:"abort_pending,omitempty"`
}

// Engine executes workflow phases for tasks.
type Engine struct {
	registry   *phasegraph.Registry
	tasks      taskstate.Store
	artifacts  artifact.Store
	gateway    Invoker
	resolver   *resolver.Resolver
	compressor *compression.Compressor
	monitor    *impasse.Monitor
	dispatcher *remediation.Dispatcher

	sink            EventSink
	logger          *logging.Logger
	tracer          trace.Tracer
	conflictReloads int
	now             func() time.Time

	mu    sync.Mutex
	walks map[string]*handle
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventSink sets where committed events are published.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithConflictReloads bounds reload-and-redecide cycles per call.
func WithConflictReloads(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.conflictReloads = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine.
func New(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("engine: registry is required")
	case deps.Tasks == nil:
		return nil, errors.New("engine: task store is required")
	case deps.Artifacts == nil:
		return nil, errors.New("engine: artifact store is required")
	case deps.Gateway == nil:
		return nil, errors.New("engine: gateway is required")
	}

	e := &Engine{
		registry:        deps.Registry,
		tasks:           deps.Tasks,
		artifacts:       deps.Artifacts,
		gateway:         deps.Gateway,
		resolver:        deps.Resolver,
		compressor:      deps.Compressor,
		monitor:         deps.Monitor,
		dispatcher:      deps.Dispatcher,
		sink:            nopSink{},
		logger:          logging.NewNop(),
		tracer:          otel.Tracer(instrumentationName),
		conflictReloads: defaultConflictReloads,
		now:             time.Now,
		walks:           make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.resolver == nil {
		e.resolver = resolver.New(e.artifacts, resolver.WithLogger(e.logger.Underlying()))
	}
	if e.compressor == nil {
		c, err := compression.New(compression.DefaultConfig(),
			compression.WithStore(e.artifacts),
			compression.WithLogger(e.logger.Underlying()))
		if err != nil {
			return nil, err
		}
		e.compressor = c
	}
	if e.monitor == nil {
		e.monitor = impasse.New(impasse.DefaultConfig(), e.logger.Underlying())
	}
	if e.dispatcher == nil {
		e.dispatcher = remediation.NewDispatcher(remediation.DefaultCeiling)
	}
	return e, nil
}

// Start creates taskID at the workflow's entry phase and walks it. An empty
// taskID gets a generated id. Starting an existing task of the same
// workflow continues it like Resume.
func (e *Engine) Start(ctx context.Context, workflowID, taskID string, metadata map[string]string) (*Outcome, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	if err := taskstate.ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	def, err := e.registry.Get(workflowID)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithTask(ctx, taskID, workflowID)
	ctx, span := e.tracer.Start(ctx, "engine.start", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("workflow.id", workflowID),
	))
	defer span.End()

	h, err := e.acquire(taskID)
	if err != nil {
		return nil, err
	}
	defer e.release(taskID)

	inst := taskstate.New(taskID, workflowID, def.Entry(), metadata)
	inst.CreatedAt = e.now()
	switch err := e.tasks.Create(ctx, inst); {
	case err == nil:
		e.logger.Info(ctx, "task started", zap.String("entry", def.Entry()))
		e.emit(ctx, inst, Event{Type: EventStarted, PhaseID: inst.CurrentPhaseID})
	case errors.Is(err, taskstate.ErrAlreadyExists):
		inst, err = e.tasks.Load(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if inst.WorkflowID != workflowID {
			return nil, fmt.Errorf("%w: %s is bound to %s", ErrWorkflowMismatch, taskID, inst.WorkflowID)
		}
	default:
		span.RecordError(err)
		return nil, fmt.Errorf("create task: %w", err)
	}

	return e.run(ctx, e.newWalk(def, inst, h))
}

// Resume continues a task from its last committed state. A task waiting for
// input or already finished is returned unchanged.
func (e *Engine) Resume(ctx context.Context, taskID string) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.resume", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	h, err := e.acquire(taskID)
	if err != nil {
		return nil, err
	}
	defer e.release(taskID)

	inst, def, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithTask(ctx, taskID, inst.WorkflowID)
	e.logger.Debug(ctx, "resuming task",
		zap.String("phase", inst.CurrentPhaseID),
		zap.String("stage", inst.Stage),
		zap.String("status", string(inst.Status)))
	return e.run(ctx, e.newWalk(def, inst, h))
}

// Answer applies answers to the pending escalation and continues the walk.
// Answers are keyed by question id.
func (e *Engine) Answer(ctx context.Context, taskID string, answers map[string]string) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.answer", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	h, err := e.acquire(taskID)
	if err != nil {
		return nil, err
	}
	defer e.release(taskID)

	for attempt := 0; ; attempt++ {
		inst, def, err := e.load(ctx, taskID)
		if err != nil {
			return nil, err
		}
		ctx := logging.WithTask(ctx, taskID, inst.WorkflowID)

		if inst.Status.IsTerminal() {
			return outcomeOf(inst), terminalErr(inst)
		}
		if inst.Status != taskstate.StatusWaitingExternalInput || inst.PendingEscalation == nil {
			return outcomeOf(inst), fmt.Errorf("%w: status %s", ErrNotWaiting, inst.Status)
		}
		parsed, err := parseAnswers(inst.PendingEscalation, answers)
		if err != nil {
			return outcomeOf(inst), err
		}

		w := e.newWalk(def, inst, h)
		w.state = StateWaitingExternalInput
		err = w.applyAnswer(ctx, parsed)
		if errors.Is(err, taskstate.ErrVersionConflict) && attempt < e.conflictReloads {
			VersionConflicts.Inc()
			continue
		}
		if err != nil {
			return w.outcome(), err
		}
		if w.inst.Status.IsTerminal() {
			return w.outcome(), nil
		}
		return e.run(ctx, w)
	}
}

// Abort stops a task. During an active walk the request is recorded and
// honored at the next state boundary; otherwise the task is aborted now.
func (e *Engine) Abort(ctx context.Context, taskID, reason string) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.abort", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()
	if reason == "" {
		reason = "aborted by request"
	}

	e.mu.Lock()
	if h, ok := e.walks[taskID]; ok {
		h.requestAbort(reason)
		e.mu.Unlock()
		out, err := e.Status(ctx, taskID)
		if err != nil {
			return nil, err
		}
		out.AbortPending = true
		return out, nil
	}
	h := &handle{}
	e.walks[taskID] = h
	e.mu.Unlock()
	defer e.release(taskID)

	for attempt := 0; ; attempt++ {
		inst, def, err := e.load(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if inst.Status.IsTerminal() {
			return outcomeOf(inst), terminalErr(inst)
		}
		ctx := logging.WithTask(ctx, taskID, inst.WorkflowID)
		w := e.newWalk(def, inst, h)
		out, err := w.abort(ctx, reason)
		if errors.Is(err, taskstate.ErrVersionConflict) && attempt < e.conflictReloads {
			VersionConflicts.Inc()
			continue
		}
		return out, err
	}
}

// Status returns the committed state of a task.
func (e *Engine) Status(ctx context.Context, taskID string) (*Outcome, error) {
	inst, err := e.tasks.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return outcomeOf(inst), nil
}

// List returns the committed state of every task.
func (e *Engine) List(ctx context.Context) ([]*taskstate.TaskInstance, error) {
	return e.tasks.List(ctx)
}

// Workflows returns the registered workflow ids.
func (e *Engine) Workflows() []string {
	return e.registry.List()
}

func (e *Engine) load(ctx context.Context, taskID string) (*taskstate.TaskInstance, *phasegraph.WorkflowDefinition, error) {
	inst, err := e.tasks.Load(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	def, err := e.registry.Get(inst.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	return inst, def, nil
}

func (e *Engine) emit(ctx context.Context, inst *taskstate.TaskInstance, ev Event) {
	ev.TaskID = inst.TaskID
	ev.WorkflowID = inst.WorkflowID
	ev.Status = inst.Status
	ev.Version = inst.Version
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.Warn(ctx, "event publish failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

func outcomeOf(inst *taskstate.TaskInstance) *Outcome {
	out := &Outcome{
		Task:        inst.Clone(),
		AbortReason: inst.AbortReason,
	}
	if inst.PendingEscalation != nil {
		out.Escalation = out.Task.PendingEscalation
	}
	return out
}

func terminalErr(inst *taskstate.TaskInstance) error {
	if inst.Status == taskstate.StatusAborted {
		return fmt.Errorf("%w: %s", ErrAborted, inst.AbortReason)
	}
	return ErrCompleted
}

// handle is the registration of an active walk.
type handle struct {
	mu          sync.Mutex
	abortReason string
}

func (h *handle) requestAbort(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.abortReason == "" {
		h.abortReason = reason
	}
}

func (h *handle) abortRequested() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abortReason, h.abortReason != ""
}

func (e *Engine) acquire(taskID string) (*handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.walks[taskID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrTaskBusy, taskID)
	}
	h := &handle{}
	e.walks[taskID] = h
	return h, nil
}

func (e *Engine) release(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.walks, taskID)
}
