// Package events publishes engine events to NATS.
//
// Events are published to subjects:
//   - {prefix}.tasks.{task_id}.started
//   - {prefix}.tasks.{task_id}.transition
//   - {prefix}.tasks.{task_id}.skipped
//   - {prefix}.tasks.{task_id}.escalated
//   - {prefix}.tasks.{task_id}.answered
//   - {prefix}.tasks.{task_id}.completed
//   - {prefix}.tasks.{task_id}.aborted
//
// Subscribers use {prefix}.tasks.> for everything or
// {prefix}.tasks.*.escalated for tasks that need an answer.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/config"
	"github.com/skribblez2718/penny-sub000/internal/engine"
)

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "penny"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// Publisher implements engine.EventSink over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher wraps an existing connection. The caller keeps ownership of
// nc.
func NewPublisher(nc *nats.Conn, opts ...Option) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("events: nats connection is required")
	}
	p := &Publisher{nc: nc, prefix: DefaultPrefix, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Connect dials cfg.URL and returns a Publisher that owns the connection.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("penny"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	p, err := NewPublisher(nc, WithPrefix(cfg.SubjectPrefix), WithLogger(logger))
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Subject returns the subject an event is published to.
func (p *Publisher) Subject(e engine.Event) string {
	return Subject(p.prefix, e.TaskID, e.Type)
}

// Subject builds {prefix}.tasks.{taskID}.{type}.
func Subject(prefix, taskID string, t engine.EventType) string {
	return fmt.Sprintf("%s.tasks.%s.%s", prefix, taskID, t)
}

// Publish implements engine.EventSink. The event is JSON encoded.
func (p *Publisher) Publish(_ context.Context, e engine.Event) error {
	if p.nc.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(e)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.Int64("version", e.Version))
	return nil
}

// Flush waits until the server has processed every published event.
func (p *Publisher) Flush(timeout time.Duration) error {
	return p.nc.FlushTimeout(timeout)
}

// Close drains the connection if the Publisher owns it.
func (p *Publisher) Close() error {
	if !p.owned || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

var _ engine.EventSink = (*Publisher)(nil)
