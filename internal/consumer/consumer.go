// Package consumer reads activity events from the broker topic and hands each
// one, in delivery order, to a handler.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"activity-platform/internal/broker"
	"activity-platform/internal/tracing"
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Dialer opens one broker subscriber connection.
type Dialer func(ctx context.Context) (broker.Subscriber, error)

// Handler processes one message. Errors and panics are contained by the
// consumer and never stop the loop.
type Handler interface {
	Handle(ctx context.Context, msg broker.Message) error
}

type HandlerFunc func(ctx context.Context, msg broker.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg broker.Message) error { return f(ctx, msg) }

type Config struct {
	Enabled  bool
	Topic    string
	Group    string
	Attempts int
	Delay    time.Duration
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
}

type ConsumeMetrics interface {
	RecordConsume(topic string, err error)
}

type noopConsumeMetrics struct{}

func (noopConsumeMetrics) RecordConsume(string, error) {}

type Option func(*Consumer)

func WithMetrics(m ConsumeMetrics) Option {
	return func(c *Consumer) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithTracer(t *tracing.Tracer) Option {
	return func(c *Consumer) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithWait replaces the sleep used between connect attempts and after
// receive errors.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Consumer) {
		if wait != nil {
			c.wait = wait
		}
	}
}

var ErrSubscribe = errors.New("consumer: subscribe failed")

type Consumer struct {
	cfg     Config
	dial    Dialer
	handler Handler
	log     *slog.Logger
	metrics ConsumeMetrics
	tracer  *tracing.Tracer
	wait    func(ctx context.Context, d time.Duration) error

	state atomic.Value
}

func New(cfg Config, dial Dialer, h Handler, log *slog.Logger, opts ...Option) *Consumer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 10
	}
	if cfg.Delay < 0 {
		cfg.Delay = 3 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	c := &Consumer{
		cfg:     cfg,
		dial:    dial,
		handler: h,
		log:     log.With("component", "consumer", "topic", cfg.Topic, "group", cfg.Group),
		metrics: noopConsumeMetrics{},
		tracer:  tracing.Noop(),
		wait:    sleep,
	}
	c.state.Store(StateStopped)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) State() State { return c.state.Load().(State) }

// Run blocks until ctx is cancelled. A disabled consumer returns nil at once.
// It returns an error wrapping ErrSubscribe only when the subscription could
// not be opened within the configured attempts.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("activity pipeline disabled, consumer not started")
		return nil
	}

	c.state.Store(StateStarting)
	defer c.state.Store(StateStopped)

	sub, subscription, err := c.subscribe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.log.Error("consumer not started", "err", err)
		return err
	}
	defer func() {
		if err := subscription.Close(); err != nil {
			c.log.Warn("close subscription", "err", err)
		}
		if err := sub.Close(); err != nil {
			c.log.Warn("close subscriber", "err", err)
		}
	}()

	c.state.Store(StateRunning)
	c.log.Info("consumer running")

	for {
		msg, err := subscription.Next(ctx)
		if ctx.Err() != nil {
			c.state.Store(StateStopping)
			c.log.Info("consumer stopping")
			return nil
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Warn("receive failed", "err", err)
			if werr := c.wait(ctx, c.cfg.ErrorBackoff); werr != nil {
				c.state.Store(StateStopping)
				return nil
			}
			continue
		}

		c.handle(ctx, msg)
		if err := subscription.Ack(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn("ack failed", "message_id", msg.ID, "err", err)
		}
	}
}

func (c *Consumer) subscribe(ctx context.Context) (broker.Subscriber, broker.Subscription, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		sub, err := c.dial(ctx)
		if err == nil {
			var s broker.Subscription
			s, err = sub.Subscribe(ctx, c.cfg.Topic, c.cfg.Group)
			if err == nil {
				return sub, s, nil
			}
			_ = sub.Close()
		}

		lastErr = err
		c.log.Warn("subscribe failed", "attempt", attempt, "max_attempts", c.cfg.Attempts, "err", err)
		if attempt == c.cfg.Attempts {
			break
		}
		if werr := c.wait(ctx, c.cfg.Delay); werr != nil {
			lastErr = werr
			break
		}
	}
	return nil, nil, fmt.Errorf("%w: %v", ErrSubscribe, lastErr)
}

// handle runs the handler for one message, containing errors and panics.
func (c *Consumer) handle(ctx context.Context, msg broker.Message) {
	ctx, span := c.tracer.StartSpan(ctx, "activity.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(c.tracer.ConsumeAttributes(msg.Topic, c.cfg.Group, msg.ID)...),
	)
	defer span.End()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.metrics.RecordConsume(msg.Topic, err)
		if err != nil {
			c.tracer.RecordError(ctx, err)
			c.log.Error("handle message failed", "message_id", msg.ID, "err", err)
		}
	}()

	err = c.handler.Handle(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
