// Package broadcast fans activity events out to connected admin observers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"activity-platform/internal/broker"
)

// Frame is the only payload sent to observers.
type Frame struct {
	Topic string          `json:"topic"`
	Event json.RawMessage `json:"event"`
}

// Observer is one connected dashboard. Send must respect ctx.
type Observer interface {
	Send(ctx context.Context, f Frame) error
	Close() error
}

type HubMetrics interface {
	RecordBroadcastSend(err error)
	SetObservers(n int)
}

type noopHubMetrics struct{}

func (noopHubMetrics) RecordBroadcastSend(error) {}
func (noopHubMetrics) SetObservers(int)          {}

var ErrInvalidEvent = errors.New("broadcast: event is not valid JSON")

// Hub is the registry of connected observers. It is safe for concurrent use
// by sessions and the consumer loop.
type Hub struct {
	sendTimeout time.Duration
	log         *slog.Logger
	metrics     HubMetrics

	mu        sync.Mutex
	observers map[Observer]struct{}
	closed    bool
}

func NewHub(sendTimeout time.Duration, log *slog.Logger, m HubMetrics) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}
	if m == nil {
		m = noopHubMetrics{}
	}
	return &Hub{
		sendTimeout: sendTimeout,
		log:         log.With("component", "broadcast"),
		metrics:     m,
		observers:   map[Observer]struct{}{},
	}
}

// Connect registers o. It reports false only after Close, in which case the
// caller keeps ownership of o.
func (h *Hub) Connect(o Observer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.observers[o] = struct{}{}
	h.metrics.SetObservers(len(h.observers))
	return true
}

// Disconnect removes o. Removing an absent observer is a no-op.
func (h *Hub) Disconnect(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o]; !ok {
		return
	}
	delete(h.observers, o)
	h.metrics.SetObservers(len(h.observers))
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Broadcast sends f to every observer concurrently, each bounded by the send
// timeout. Observers whose send failed are removed together once every send
// has finished, then closed. It returns the number of successful deliveries.
func (h *Hub) Broadcast(ctx context.Context, f Frame) int {
	h.mu.Lock()
	snapshot := make([]Observer, 0, len(h.observers))
	for o := range h.observers {
		snapshot = append(snapshot, o)
	}
	h.mu.Unlock()

	if len(snapshot) == 0 {
		return 0
	}

	var (
		wg       sync.WaitGroup
		deadMu   sync.Mutex
		dead     []Observer
		failures int
	)
	for _, o := range snapshot {
		wg.Add(1)
		go func(o Observer) {
			defer wg.Done()
			err := h.send(ctx, o, f)
			h.metrics.RecordBroadcastSend(err)
			if err == nil {
				return
			}
			h.log.Warn("observer send failed, dropping observer", "err", err)
			deadMu.Lock()
			dead = append(dead, o)
			failures++
			deadMu.Unlock()
		}(o)
	}
	wg.Wait()

	if len(dead) > 0 {
		h.mu.Lock()
		for _, o := range dead {
			delete(h.observers, o)
		}
		h.metrics.SetObservers(len(h.observers))
		h.mu.Unlock()
		for _, o := range dead {
			_ = o.Close()
		}
	}
	return len(snapshot) - failures
}

func (h *Hub) send(ctx context.Context, o Observer, f Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	return o.Send(ctx, f)
}

// Relay frames a broker message and broadcasts it. It is the consumer's
// per-message handler.
func (h *Hub) Relay(ctx context.Context, msg broker.Message) error {
	if !json.Valid(msg.Value) {
		return fmt.Errorf("%w (message %s)", ErrInvalidEvent, msg.ID)
	}
	h.Broadcast(ctx, Frame{Topic: msg.Topic, Event: json.RawMessage(msg.Value)})
	return nil
}

// Close disconnects and closes every observer. Later Connect calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]Observer, 0, len(h.observers))
	for o := range h.observers {
		all = append(all, o)
	}
	h.observers = map[Observer]struct{}{}
	h.metrics.SetObservers(0)
	h.mu.Unlock()

	for _, o := range all {
		_ = o.Close()
	}
}
