package batcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchpub/internal/pub"
	"batchpub/internal/pub/metrics"
)

func TestMetricsPublisherDelegates(t *testing.T) {
	transport := &fakeTransport{}
	b := newTestBatcher(t, transport, &fakeExecutor{}, Options{MaxMessages: 100, MaxHoldTime: time.Minute})

	p := NewMetricsPublisher(b, metrics.NewRegistry(), "test-topic")

	res := p.Publish(pub.Message{Data: []byte("test-data-0")})
	assert.False(t, resolved(res))

	p.Flush()

	id, err := res.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-message-id-0", id)
	assert.Equal(t, 1, transport.batchCount())
}
