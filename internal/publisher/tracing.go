package publisher

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"activity-platform/internal/event"
	"activity-platform/internal/tracing"
)

// TracedPublisher wraps an EventPublisher with a producer span.
// Layer order: TracedPublisher -> MetricsPublisher -> Publisher.
type TracedPublisher struct {
	next   EventPublisher
	tracer *tracing.Tracer
}

func NewTracedPublisher(next EventPublisher, tracer *tracing.Tracer) EventPublisher {
	return &TracedPublisher{next: next, tracer: tracer}
}

func (p *TracedPublisher) Publish(ctx context.Context, topic string, env event.Envelope) error {
	ctx, span := p.tracer.StartSpan(ctx, "activity.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(p.tracer.PublishAttributes(topic, env.EventType, env.EventID)...)

	err := p.next.Publish(ctx, topic, env)
	if err != nil {
		p.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
