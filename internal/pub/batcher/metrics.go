package batcher

import (
	"context"
	"time"

	"batchpub/internal/pub"
	"batchpub/internal/pub/metrics"
)

// MetricsPublisher wraps a pub.Publisher with metrics collection
type MetricsPublisher struct {
	publisher pub.Publisher
	registry  *metrics.Registry
	topic     string
}

// NewMetricsPublisher creates a new instrumented publisher
func NewMetricsPublisher(publisher pub.Publisher, registry *metrics.Registry, topic string) pub.Publisher {
	return &MetricsPublisher{
		publisher: publisher,
		registry:  registry,
		topic:     topic,
	}
}

// Publish implements pub.Publisher.Publish with metrics collection. The
// publish duration is measured to result resolution, not to enqueue.
func (p *MetricsPublisher) Publish(msg pub.Message) *pub.PublishResult {
	start := time.Now()
	size := msg.Size()

	res := p.publisher.Publish(msg)

	go func() {
		<-res.Ready()
		_, err := res.Get(context.Background())
		p.registry.RecordPublish(p.topic, size, time.Since(start), err)
	}()

	return res
}

// Flush implements pub.Publisher.Flush with metrics collection
func (p *MetricsPublisher) Flush() {
	p.registry.RecordFlush(p.topic)
	p.publisher.Flush()
}
