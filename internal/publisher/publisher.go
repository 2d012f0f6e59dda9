// Package publisher sends activity envelopes to the broker topic.
//
// The broker connection is established once at startup with a bounded retry.
// A publisher that exhausts its attempts degrades instead of failing the
// process, and from then on Publish reports ErrUnavailable without blocking.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"activity-platform/internal/broker"
	"activity-platform/internal/event"
)

type State string

const (
	StateDisabled   State = "disabled"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDegraded   State = "degraded"
	StateClosed     State = "closed"
)

// ErrUnavailable is returned by Publish when the pipeline is enabled but no
// broker connection exists. It is a configuration condition, not a transient
// send failure.
var ErrUnavailable = errors.New("publisher: broker unavailable")

// EventPublisher is the publish contract shared by Publisher and its
// decorators.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env event.Envelope) error
}

// Dialer opens one broker producer connection.
type Dialer func(ctx context.Context) (broker.Producer, error)

type Config struct {
	Enabled  bool
	Attempts int
	Delay    time.Duration
}

// ConnectMetrics observes startup attempts and state changes.
type ConnectMetrics interface {
	RecordConnectAttempt(err error)
	SetPublisherState(state string)
}

type noopConnectMetrics struct{}

func (noopConnectMetrics) RecordConnectAttempt(error) {}
func (noopConnectMetrics) SetPublisherState(string)   {}

type Option func(*Publisher)

func WithMetrics(m ConnectMetrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithWait replaces the inter-attempt sleep.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Publisher) {
		if wait != nil {
			p.wait = wait
		}
	}
}

type Publisher struct {
	cfg     Config
	dial    Dialer
	log     *slog.Logger
	metrics ConnectMetrics
	wait    func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	state    State
	producer broker.Producer
}

func New(cfg Config, dial Dialer, log *slog.Logger, opts ...Option) *Publisher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 10
	}
	if cfg.Delay < 0 {
		cfg.Delay = 3 * time.Second
	}
	p := &Publisher{
		cfg:     cfg,
		dial:    dial,
		log:     log.With("component", "publisher"),
		metrics: noopConnectMetrics{},
		wait:    sleep,
		state:   StateConnecting,
	}
	if !cfg.Enabled {
		p.state = StateDisabled
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics.SetPublisherState(string(p.state))
	return p
}

func (p *Publisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Start connects to the broker, making at most cfg.Attempts attempts with
// cfg.Delay between them. It returns nil once connected or when disabled, and
// an error wrapping ErrUnavailable when every attempt failed. The host keeps
// running either way.
func (p *Publisher) Start(ctx context.Context) error {
	if p.State() != StateConnecting {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		prod, err := p.dial(ctx)
		p.metrics.RecordConnectAttempt(err)
		if err == nil {
			p.mu.Lock()
			if p.state == StateClosed {
				p.mu.Unlock()
				_ = prod.Close()
				return nil
			}
			p.producer = prod
			p.setState(StateConnected)
			p.mu.Unlock()
			p.log.Info("broker connected", "attempt", attempt)
			return nil
		}

		lastErr = err
		p.log.Warn("broker connect failed", "attempt", attempt, "max_attempts", p.cfg.Attempts, "err", err)
		if attempt == p.cfg.Attempts {
			break
		}
		if werr := p.wait(ctx, p.cfg.Delay); werr != nil {
			lastErr = werr
			break
		}
	}

	p.mu.Lock()
	if p.state == StateConnecting {
		p.setState(StateDegraded)
	}
	p.mu.Unlock()
	p.log.Error("broker unavailable, activity publishing degraded", "err", lastErr)
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// Publish validates, encodes and sends env to topic. It never waits for a
// connection: a disabled publisher drops the event silently and a publisher
// without a connection returns ErrUnavailable.
func (p *Publisher) Publish(ctx context.Context, topic string, env event.Envelope) error {
	p.mu.RLock()
	state, prod := p.state, p.producer
	p.mu.RUnlock()

	switch state {
	case StateDisabled:
		return nil
	case StateConnected:
	default:
		return fmt.Errorf("%w (state %s)", ErrUnavailable, state)
	}

	if err := env.Validate(); err != nil {
		return err
	}
	value, err := event.Encode(env)
	if err != nil {
		return err
	}
	if err := prod.Send(ctx, topic, value); err != nil {
		return fmt.Errorf("publish %s to %s: %w", env.EventType, topic, err)
	}
	return nil
}

// Close releases the broker connection. Later publishes report
// ErrUnavailable unless the publisher is disabled.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisabled {
		return nil
	}
	prod := p.producer
	p.producer = nil
	p.setState(StateClosed)
	if prod == nil {
		return nil
	}
	return prod.Close()
}

// setState requires p.mu held for writing.
func (p *Publisher) setState(s State) {
	p.state = s
	p.metrics.SetPublisherState(string(s))
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
