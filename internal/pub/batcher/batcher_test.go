package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"batchpub/internal/pub"
)

// fakeExecutor runs work synchronously and holds armed timers until the
// test fires them, standing in for the background scheduling context.
type fakeExecutor struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (e *fakeExecutor) Go(fn func()) { fn() }

func (e *fakeExecutor) AfterFunc(d time.Duration, fn func()) pub.Timer {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	e.timers = append(e.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

func (e *fakeExecutor) timerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// fire runs the i-th armed timer even if it was stopped, imitating a late
// firing racing with cancellation.
func (e *fakeExecutor) fire(i int) {
	e.mu.Lock()
	t := e.timers[i]
	e.mu.Unlock()
	t.fn()
}

// fakeTransport records batches and answers with sequential IDs unless the
// test installs its own respond function.
type fakeTransport struct {
	mu      sync.Mutex
	batches [][]pub.Message
	respond func(msgs []pub.Message) ([]string, error)
}

func (t *fakeTransport) Send(_ context.Context, _ string, msgs []pub.Message) ([]string, error) {
	t.mu.Lock()
	t.batches = append(t.batches, msgs)
	t.mu.Unlock()

	if t.respond != nil {
		return t.respond(msgs)
	}

	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = fmt.Sprintf("test-message-id-%d", i)
	}
	return ids, nil
}

func (t *fakeTransport) batchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batches)
}

func (t *fakeTransport) batch(i int) []pub.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batches[i]
}

func newTestBatcher(t *testing.T, transport pub.Transport, exec pub.Executor, opts Options) *Batcher {
	t.Helper()
	b, err := New("test-topic", transport, exec, zaptest.NewLogger(t), opts)
	require.NoError(t, err)
	return b
}

func resolved(res *pub.PublishResult) bool {
	select {
	case <-res.Ready():
		return true
	default:
		return false
	}
}

func TestPublishHoldsUntilFlush(t *testing.T) {
	transport := &fakeTransport{}
	exec := &fakeExecutor{}
	b := newTestBatcher(t, transport, exec, Options{MaxMessages: 100, MaxHoldTime: time.Minute})

	r0 := b.Publish(pub.Message{Data: []byte("test-data-0")})
	r1 := b.Publish(pub.Message{Data: []byte("test-data-1")})

	assert.False(t, resolved(r0))
	assert.False(t, resolved(r1))
	assert.Zero(t, transport.batchCount())

	b.Flush()

	require.Equal(t, 1, transport.batchCount())
	sent := transport.batch(0)
	require.Len(t, sent, 2)
	assert.Equal(t, "test-data-0", string(sent[0].Data))
	assert.Equal(t, "test-data-1", string(sent[1].Data))

	id0, err := r0.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-message-id-0", id0)
	id1, err := r1.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-message-id-1", id1)
}

func TestBatchByMessageCount(t *testing.T) {
	transport := &fakeTransport{}
	exec := &fakeExecutor{}
	b := newTestBatcher(t, transport, exec, Options{MaxMessages: 2})

	r0 := b.Publish(pub.Message{Data: []byte("test-data-0")})
	assert.Zero(t, transport.batchCount())

	r1 := b.Publish(pub.Message{Data: []byte("test-data-1")})

	require.Equal(t, 1, transport.batchCount())
	require.Len(t, transport.batch(0), 2)
	assert.True(t, resolved(r0))
	assert.True(t, resolved(r1))
}

func TestBatchByMessageSize(t *testing.T) {
	transport := &fakeTransport{}
	exec := &fakeExecutor{}
	// Each message accounts len("test-data-N") + 20 = 31 bytes; two of them
	// cross the threshold, one does not.
	b := newTestBatcher(t, transport, exec, Options{MaxMessages: 4, MaxBytes: 40})

	b.Publish(pub.Message{Data: []byte("test-data-0")})
	assert.Zero(t, transport.batchCount())

	b.Publish(pub.Message{Data: []byte("test-data-1")})

	require.Equal(t, 1, transport.batchCount())
	assert.Len(t, transport.batch(0), 2)
}

func TestBatchByMaxHoldTime(t *testing.T) {
	transport := &fakeTransport{}
	exec := &fakeExecutor{}
	b := newTestBatcher(t, transport, exec, Options{MaxMessages: 4, MaxHoldTime: 5 * time.Millisecond})

	r0 := b.Publish(pub.Message{Data: []byte("test-data-0")})
	r1 := b.Publish(pub.Message{Data: []byte("test-data-1")})

	// Only the first message of the batch arms the timer.
	require.Equal(t, 1, exec.timerCount())
	assert.Zero(t, transport.batchCount())

	exec.fire(0)

	require.Equal(t, 1, transport.batchCount())
	assert.Len(t, transport.batch(0), 2)
	assert.True(t, resolved(r0))
	assert.True(t, resolved(r1))
}

func TestHoldTimerInertAfterSwap(t *testing.T) {
	transport := &fakeTransport{}
	exec := &fakeExecutor{}
	b := newTestBatcher(t, transport, exec, Options{MaxMessages: 2, MaxHoldTime: time.Minute})

	b.Publish(pub.Message{Data: []byte("test-data-0")})
	b.Publish(pub.Message{Data: []byte("test-data-1")})
	require.Equal(t, 1, transport.batchCount())

	// The count trigger swapped the batch out; a late firing of its hold
	// timer must not send anything.
	exec.fire(0)
	assert.Equal(t, 1, transport.batchCount())

	// The next batch is unaffected.
	r2 := b.Publish(pub.Message{Data: []byte("test-data-2")})
	b.Flush()
	require.Equal(t, 2, transport.batchCount())
	assert.True(t, resolved(r2))
}

func TestFlushOnEmptyBatchIsNoop(t *testing.T) {
	transport := &fakeTransport{}
	b := newTestBatcher(t, transport, &fakeExecutor{}, Options{})

	b.Flush()
	b.Flush()

	assert.Zero(t, transport.batchCount())
}

func TestFlushSendsSingleMessageImmediately(t *testing.T) {
	transport := &fakeTransport{}
	b := newTestBatcher(t, transport, &fakeExecutor{}, Options{MaxMessages: 1000, MaxBytes: 1 << 30})

	r := b.Publish(pub.Message{Data: []byte("solo")})
	assert.False(t, resolved(r))

	b.Flush()

	require.Equal(t, 1, transport.batchCount())
	assert.Len(t, transport.batch(0), 1)
	assert.True(t, resolved(r))
}

func TestTransportErrorFailsWholeBatch(t *testing.T) {
	wantErr := errors.New("permission denied: uh-oh")
	transport := &fakeTransport{
		respond: func([]pub.Message) ([]string, error) { return nil, wantErr },
	}
	b := newTestBatcher(t, transport, &fakeExecutor{}, Options{MaxMessages: 2})

	r0 := b.Publish(pub.Message{Data: []byte("test-data-0")})
	r1 := b.Publish(pub.Message{Data: []byte("test-data-1")})

	for _, r := range []*pub.PublishResult{r0, r1} {
		_, err := r.Get(context.Background())
		assert.ErrorIs(t, err, wantErr)
	}
}

func TestMismatchedIDCountFailsWholeBatch(t *testing.T) {
	transport := &fakeTransport{
		respond: func([]pub.Message) ([]string, error) { return nil, nil },
	}
	b := newTestBatcher(t, transport, &fakeExecutor{}, Options{MaxMessages: 2})

	r0 := b.Publish(pub.Message{Data: []byte("test-data-0")})
	r1 := b.Publish(pub.Message{Data: []byte("test-data-1")})

	for _, r := range []*pub.PublishResult{r0, r1} {
		_, err := r.Get(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, pub.ErrMismatchedIDCount)
		assert.Contains(t, err.Error(), "mismatched message id count")
	}
}

func TestFailedBatchDoesNotAffectNextBatch(t *testing.T) {
	var calls int
	transport := &fakeTransport{}
	transport.respond = func(msgs []pub.Message) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("unavailable")
		}
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = "ack-for-" + string(m.Data)
		}
		return ids, nil
	}
	b := newTestBatcher(t, transport, &fakeExecutor{}, Options{MaxMessages: 2})

	r0 := b.Publish(pub.Message{Data: []byte("test-data-0")})
	b.Publish(pub.Message{Data: []byte("test-data-1")})
	_, err := r0.Get(context.Background())
	require.Error(t, err)

	r2 := b.Publish(pub.Message{Data: []byte("test-data-2")})
	b.Flush()

	id, err := r2.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ack-for-test-data-2", id)
}

// TestDefaultMakesProgress runs against the real executor: completions must
// arrive on a background goroutine, driven by the hold timer alone.
func TestDefaultMakesProgress(t *testing.T) {
	transport := &fakeTransport{}
	b := newTestBatcher(t, transport, pub.GoExecutor{}, Options{MaxMessages: 4, MaxHoldTime: 20 * time.Millisecond})

	r0 := b.Publish(pub.Message{Data: []byte("test-data-0")})
	r1 := b.Publish(pub.Message{Data: []byte("test-data-1")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id0, err := r0.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-message-id-0", id0)
	id1, err := r1.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-message-id-1", id1)

	assert.Equal(t, 1, transport.batchCount())
}

func TestConcurrentPublishLosesNoMessages(t *testing.T) {
	transport := &fakeTransport{}
	b := newTestBatcher(t, transport, pub.GoExecutor{}, Options{MaxMessages: 7, MaxHoldTime: 5 * time.Millisecond})

	const total = 500
	results := make([]*pub.PublishResult, total)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < total/10; i++ {
				n := w*(total/10) + i
				results[n] = b.Publish(pub.Message{Data: []byte(fmt.Sprintf("msg-%d", n))})
			}
		}(w)
	}
	wg.Wait()
	b.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, r := range results {
		_, err := r.Get(ctx)
		require.NoError(t, err)
	}

	var sent int
	for i := 0; i < transport.batchCount(); i++ {
		sent += len(transport.batch(i))
	}
	assert.Equal(t, total, sent)
}

func TestNewRejectsNegativeLimits(t *testing.T) {
	_, err := New("t", &fakeTransport{}, &fakeExecutor{}, zaptest.NewLogger(t), Options{MaxMessages: -1})
	assert.Error(t, err)
}
