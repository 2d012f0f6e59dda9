package publisher

import (
	"context"
	"time"

	"activity-platform/internal/event"
)

// PublishMetrics records the outcome of each publish.
type PublishMetrics interface {
	RecordPublish(topic string, duration time.Duration, err error)
}

// MetricsPublisher wraps an EventPublisher with metrics collection.
type MetricsPublisher struct {
	next    EventPublisher
	metrics PublishMetrics
}

func NewMetricsPublisher(next EventPublisher, m PublishMetrics) EventPublisher {
	return &MetricsPublisher{next: next, metrics: m}
}

func (p *MetricsPublisher) Publish(ctx context.Context, topic string, env event.Envelope) error {
	start := time.Now()
	err := p.next.Publish(ctx, topic, env)
	p.metrics.RecordPublish(topic, time.Since(start), err)
	return err
}
