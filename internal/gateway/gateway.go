// Package gateway calls the external reasoning worker for one phase and
// turns its answer into a validated artifact.
//
// The gateway owns the hard call deadline, secret scrubbing and schema
// normalization. It never retries; retries are the remediation loop's job.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/config"
	"github.com/skribblez2718/penny-sub000/internal/secrets"
)

const (
	instrumentationName = "github.com/skribblez2718/penny-sub000/internal/gateway"
	defaultTimeout      = 5 * time.Minute
)

// Gateway wraps a Worker with deadline, scrubbing and validation.
type Gateway struct {
	worker   Worker
	timeout  time.Duration
	bounds   artifact.Bounds
	scrubber *secrets.Scrubber
	logger   *zap.Logger
	tracer   trace.Tracer
	meter    metric.Meter

	calls    metric.Int64Counter
	failures metric.Int64Counter
	redacted metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the hard deadline for one call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithBounds sets the quadrant token bounds.
func WithBounds(b artifact.Bounds) Option {
	return func(g *Gateway) { g.bounds = b }
}

// WithScrubber redacts secrets from every result before validation.
func WithScrubber(s *secrets.Scrubber) Option {
	return func(g *Gateway) { g.scrubber = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Gateway around worker.
func New(worker Worker, opts ...Option) (*Gateway, error) {
	if worker == nil {
		return nil, ErrNoWorker
	}
	g := &Gateway{
		worker:  worker,
		timeout: defaultTimeout,
		bounds:  artifact.Bounds{Min: 1},
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.initMetrics()
	return g, nil
}

// WorkerFromConfig builds the transport selected by cfg.Mode.
func WorkerFromConfig(cfg config.GatewayConfig) (Worker, error) {
	switch cfg.Mode {
	case "http", "":
		return NewHTTPWorker(cfg.Endpoint,
			WithToken(cfg.Token.Value()),
			WithRateLimit(cfg.RateLimit, cfg.Burst),
		)
	case "exec":
		return NewExecWorker(cfg.Command, cfg.Args...)
	}
	return nil, fmt.Errorf("unknown gateway mode %q", cfg.Mode)
}

// Invoke calls the worker once and returns a normalized artifact. Worker
// failures come back as *WorkerError. Cancellation of ctx itself is
// returned unwrapped so callers can tell it apart from a worker timeout.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*artifact.Artifact, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.invoke",
		trace.WithAttributes(
			attribute.String("phase.id", req.PhaseID),
			attribute.String("worker.role", string(req.WorkerRole)),
			attribute.Int("attempt", req.Attempt),
		),
	)
	defer span.End()

	start := time.Now()
	a, err := g.invoke(ctx, req)
	elapsed := time.Since(start)

	attrs := metric.WithAttributes(attribute.String("phase.id", req.PhaseID))
	g.calls.Add(ctx, 1, attrs)
	g.duration.Record(ctx, elapsed.Seconds(), attrs)

	if err != nil {
		kind := "canceled"
		if we, ok := AsWorkerError(err); ok {
			kind = string(we.Kind)
		}
		g.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase.id", req.PhaseID),
			attribute.String("kind", kind),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		g.logger.Warn("worker call failed",
			zap.String("phase", req.PhaseID),
			zap.String("kind", kind),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("artifact.tokens", a.TokenCount))
	g.logger.Debug("worker call completed",
		zap.String("phase", req.PhaseID),
		zap.Int("tokens", a.TokenCount),
		zap.Int("truncations", len(a.Truncations)),
		zap.Duration("elapsed", elapsed))
	return a, nil
}

func (g *Gateway) invoke(ctx context.Context, req Request) (*artifact.Artifact, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.worker.Call(callCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("invoke %s: %w", req.PhaseID, ctx.Err())
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, g.fail(KindTimeout, req, fmt.Errorf("no answer within %s", g.timeout))
		}
		var de *decodeError
		if errors.As(err, &de) {
			return nil, g.fail(KindSchema, req, err)
		}
		return nil, g.fail(KindTransport, req, err)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, g.fail(KindTimeout, req, fmt.Errorf("answer arrived after %s", g.timeout))
	}

	if resp.Error != "" {
		return nil, g.fail(parseKind(resp.ErrorKind), req, errors.New(resp.Error))
	}
	if resp.Artifact == nil {
		return nil, g.fail(KindSchema, req, errors.New("response carries no artifact"))
	}

	a := resp.Artifact
	resetOwned(a)
	a.PhaseID = req.PhaseID
	a.WorkerRole = req.WorkerRole
	a.TaskID = req.TaskID

	if g.scrubber.Enabled() {
		if n := g.scrubber.ScrubArtifact(a); n > 0 {
			g.redacted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("phase.id", req.PhaseID)))
			g.logger.Info("redacted secrets from worker output",
				zap.String("phase", req.PhaseID), zap.Int("findings", n))
		}
	}

	if err := artifact.Normalize(a, g.bounds); err != nil {
		return nil, g.fail(KindSchema, req, err)
	}
	return a, nil
}

func (g *Gateway) fail(kind ErrorKind, req Request, err error) *WorkerError {
	return &WorkerError{Kind: kind, PhaseID: req.PhaseID, Err: err}
}

func (g *Gateway) initMetrics() {
	var err error

	g.calls, err = g.meter.Int64Counter(
		"gateway.calls_total",
		metric.WithDescription("Worker calls made"),
		metric.WithUnit("1"),
	)
	if err != nil {
		g.logger.Warn("failed to create calls counter", zap.Error(err))
	}

	g.failures, err = g.meter.Int64Counter(
		"gateway.failures_total",
		metric.WithDescription("Worker calls that failed, by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		g.logger.Warn("failed to create failures counter", zap.Error(err))
	}

	g.redacted, err = g.meter.Int64Counter(
		"gateway.redactions_total",
		metric.WithDescription("Secrets redacted from worker output"),
		metric.WithUnit("1"),
	)
	if err != nil {
		g.logger.Warn("failed to create redactions counter", zap.Error(err))
	}

	g.duration, err = g.meter.Float64Histogram(
		"gateway.call_duration_seconds",
		metric.WithDescription("Worker call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		g.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// resetOwned clears the fields the engine and stores assign. A worker never
// chooses an artifact's identity, lineage or compression state.
func resetOwned(a *artifact.Artifact) {
	a.ID = ""
	a.ProducedAt = time.Time{}
	a.TokenCount = 0
	a.Degenerate = false
	a.Revision = 0
	a.Level = 0
	a.DerivedFrom = ""
	a.SupersededBy = ""
	a.Archived = false
	a.Truncations = nil
}
