package batcher

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"batchpub/internal/pub"
	"batchpub/internal/pub/tracing"
)

// TracedPublisher wraps a pub.Publisher with distributed tracing
// Layer order: TracedPublisher -> MetricsPublisher -> Batcher (real thing)
type TracedPublisher struct {
	publisher pub.Publisher
	tracer    *tracing.Tracer
	topic     string
}

// NewTracedPublisher creates a new traced publisher that wraps a metrics publisher
func NewTracedPublisher(publisher pub.Publisher, tracer *tracing.Tracer, topic string) pub.Publisher {
	return &TracedPublisher{
		publisher: publisher,
		tracer:    tracer,
		topic:     topic,
	}
}

// Publish implements pub.Publisher.Publish with distributed tracing. The
// span covers the submission and ends when the result resolves.
func (p *TracedPublisher) Publish(msg pub.Message) *pub.PublishResult {
	ctx, span := p.tracer.StartSpan(context.Background(), "publisher.publish",
		trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(p.tracer.PublishAttributes(p.topic, msg.OrderingKey, msg.Size())...)

	res := p.publisher.Publish(msg)

	go func() {
		defer span.End()

		id, err := res.Get(context.Background())
		if err != nil {
			p.tracer.RecordError(ctx, err)
			span.SetAttributes(p.tracer.ErrorAttributes(err)...)
			return
		}
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(p.tracer.ErrorAttributes(nil)...)
		span.SetAttributes(attribute.String("pub.message_id", id))
	}()

	return res
}

// Flush implements pub.Publisher.Flush with distributed tracing
func (p *TracedPublisher) Flush() {
	_, span := p.tracer.StartSpan(context.Background(), "publisher.flush")
	defer span.End()

	p.publisher.Flush()
	span.SetStatus(codes.Ok, "")
}
