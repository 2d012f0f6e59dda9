package activity

import (
	"context"
	"log/slog"
	"sync"
)

// Handler records one entry. *Recorder is the production handler.
type Handler interface {
	Record(ctx context.Context, e Entry)
}

type DropMetrics interface {
	RecordDispatchDropped()
}

type noopDropMetrics struct{}

func (noopDropMetrics) RecordDispatchDropped() {}

type job struct {
	ctx   context.Context
	entry Entry
}

// Dispatcher hands entries from request handlers to a fixed pool of workers
// over a bounded queue. Submit never blocks the request path. With a single
// worker, entries are recorded in submission order.
type Dispatcher struct {
	queue   chan job
	handler Handler
	log     *slog.Logger
	metrics DropMetrics
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(h Handler, workers, queueSize int, log *slog.Logger, m DropMetrics) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if m == nil {
		m = noopDropMetrics{}
	}
	d := &Dispatcher{
		queue:   make(chan job, queueSize),
		handler: h,
		log:     log.With("component", "activity_dispatcher"),
		metrics: m,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run()
		}()
	}
	return d
}

func (d *Dispatcher) run() {
	for j := range d.queue {
		d.handler.Record(j.ctx, j.entry)
	}
}

// Submit enqueues e without blocking and reports whether it was accepted.
// The request's values (logger, request id) are kept but its cancellation is
// not: the entry is recorded after the response has been written.
func (d *Dispatcher) Submit(ctx context.Context, e Entry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(e, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), entry: e}:
		return true
	default:
		d.drop(e, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(e Entry, reason string) {
	d.metrics.RecordDispatchDropped()
	d.log.Warn("activity dropped", "reason", reason, "activity_type", string(e.Type), "request_id", e.RequestID)
}

// Drain stops accepting entries and waits for queued ones to be recorded,
// or for ctx to end.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}
