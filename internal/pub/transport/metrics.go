package transport

import (
	"context"
	"time"

	"batchpub/internal/pub"
	"batchpub/internal/pub/metrics"
)

// MetricsTransport wraps a pub.Transport with metrics collection
type MetricsTransport struct {
	transport pub.Transport
	registry  *metrics.Registry
}

// NewMetricsTransport creates a new instrumented transport
func NewMetricsTransport(transport pub.Transport, registry *metrics.Registry) pub.Transport {
	return &MetricsTransport{
		transport: transport,
		registry:  registry,
	}
}

// Send implements pub.Transport.Send with metrics collection
func (t *MetricsTransport) Send(ctx context.Context, topic string, msgs []pub.Message) ([]string, error) {
	start := time.Now()

	var bytes int
	for _, m := range msgs {
		bytes += m.Size()
	}

	ids, err := t.transport.Send(ctx, topic, msgs)
	t.registry.RecordBatchSend(topic, len(msgs), bytes, time.Since(start), err)

	return ids, err
}
