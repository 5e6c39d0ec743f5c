package compression

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
)

const tracerName = "github.com/skribblez2718/penny-sub000/internal/compression"
const meterName = "compression"

// Compressor applies age-based compression and persists derived revisions.
type Compressor struct {
	config Config
	store  artifact.Store
	logger *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	compressionCounter metric.Int64Counter
	savedTokens        metric.Int64Counter
	overBudget         metric.Int64Counter
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithStore persists each newly reached level as a derived revision.
func WithStore(s artifact.Store) Option {
	return func(c *Compressor) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compressor) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Compressor.
func New(cfg Config, opts ...Option) (*Compressor, error) {
	if cfg.Budget < 0 {
		return nil, fmt.Errorf("budget must be >= 0")
	}
	if cfg.SummarySentences < 0 {
		return nil, fmt.Errorf("summary sentences must be >= 0")
	}
	c := &Compressor{
		config: cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(meterName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initMetrics()
	return c, nil
}

// Compress sizes each entry by its age and enforces the budget.
//
// activePhaseAge is the age of the newest entry, normally 1. An entry of
// relative age n (1 is newest) is compressed as activePhaseAge+n-1. Entries
// without an age fall back to their position.
func (c *Compressor) Compress(ctx context.Context, h History, activePhaseAge int) (History, error) {
	ctx, span := c.tracer.Start(ctx, "compression.compress",
		trace.WithAttributes(
			attribute.Int("entries", len(h.Entries)),
			attribute.Int("budget", c.config.Budget),
		),
	)
	defer span.End()

	if activePhaseAge < 1 {
		activePhaseAge = 1
	}
	before := h.Tokens()
	open := openIDs(h.Open)

	out := History{
		Entries: make([]Entry, len(h.Entries)),
		Open:    append([]artifact.UnknownRecord(nil), h.Open...),
	}
	n := len(h.Entries)
	for i, e := range h.Entries {
		rel := e.Age
		if rel < 1 {
			rel = n - i
		}
		age := activePhaseAge + rel - 1
		out.Entries[i] = c.raise(e, targetLevel(age), open)
		out.Entries[i].Age = age
	}

	// Oldest entries go to residue first.
	for _, i := range oldestFirst(out.Entries) {
		if c.config.Budget == 0 || out.Tokens() <= c.config.Budget {
			break
		}
		out.Entries[i] = c.raise(out.Entries[i], artifact.LevelResidue, open)
	}

	after := out.Tokens()
	span.SetAttributes(attribute.Int("tokens_before", before), attribute.Int("tokens_after", after))

	if c.config.Budget > 0 && after > c.config.Budget {
		c.overBudget.Add(ctx, 1)
		err := fmt.Errorf("%w: %d tokens, budget %d", ErrOverBudget, after, c.config.Budget)
		span.RecordError(err)
		return History{}, err
	}

	c.compressionCounter.Add(ctx, 1)
	if before > after {
		c.savedTokens.Add(ctx, int64(before-after))
	}

	if c.store != nil {
		c.persist(ctx, out)
	}
	return out, nil
}

// oldestFirst returns entry indexes by descending age.
func oldestFirst(entries []Entry) []int {
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return entries[idx[i]].Age > entries[idx[j]].Age
	})
	return idx
}

// raise returns e at level, or e unchanged when it is already at or above
// level or its source is not available.
func (c *Compressor) raise(e Entry, level artifact.Level, open map[string]bool) Entry {
	if e.Level >= level || e.source == nil {
		return e
	}
	text := render(e.source, level, open, c.config.SummarySentences)
	e.Level = level
	e.Text = text
	e.Tokens = artifact.CountTokens(text)
	return e
}

// persist writes a derived revision for every entry whose level is above
// the newest stored revision. Failures are logged; the in-memory history is
// already correct.
func (c *Compressor) persist(ctx context.Context, h History) {
	for _, e := range h.Entries {
		if e.Level == artifact.LevelVerbatim || e.ArtifactID == "" {
			continue
		}
		latest, err := c.store.Latest(ctx, e.ArtifactID)
		if err != nil {
			c.logger.Warn("load latest revision failed", zap.String("artifact", e.ArtifactID), zap.Error(err))
			continue
		}
		if latest.Level >= e.Level {
			continue
		}
		derived := &artifact.Artifact{
			Body:               e.Text,
			Level:              e.Level,
			Decisions:          latest.Decisions,
			MissingInformation: latest.MissingInformation,
			TokenCount:         e.Tokens,
		}
		for _, u := range latest.Unknowns {
			if u.Status.IsOpen() {
				derived.Unknowns = append(derived.Unknowns, u)
			}
		}
		if err := c.store.Derive(ctx, latest.ID, derived); err != nil {
			c.logger.Warn("derive revision failed", zap.String("artifact", latest.ID), zap.Error(err))
			continue
		}
		c.logger.Debug("derived revision stored",
			zap.String("artifact", e.ArtifactID),
			zap.String("revision", derived.ID),
			zap.Int("level", int(e.Level)))
	}
}

func (c *Compressor) initMetrics() {
	var err error

	c.compressionCounter, err = c.meter.Int64Counter(
		"compression.operations_total",
		metric.WithDescription("Total number of history compressions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		c.logger.Warn("failed to create compression counter", zap.Error(err))
	}

	c.savedTokens, err = c.meter.Int64Counter(
		"compression.tokens_saved_total",
		metric.WithDescription("Tokens removed by compression"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		c.logger.Warn("failed to create saved tokens counter", zap.Error(err))
	}

	c.overBudget, err = c.meter.Int64Counter(
		"compression.over_budget_total",
		metric.WithDescription("Histories that could not fit the budget"),
		metric.WithUnit("1"),
	)
	if err != nil {
		c.logger.Warn("failed to create over budget counter", zap.Error(err))
	}
}
