// Package batcher converts a stream of single-message publish calls into
// transport-level batches. A batch is sent once it reaches the configured
// message count, the configured byte size, or once it has been held for the
// configured duration after its first message, whichever comes first.
package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

// Options controls when an open batch is handed to the transport.
type Options struct {
	// MaxMessages flushes the open batch once it holds this many messages.
	MaxMessages int `env:"BATCH_MAX_MESSAGES" envDefault:"100"`
	// MaxBytes flushes the open batch once its cumulative size reaches
	// this many bytes.
	MaxBytes int `env:"BATCH_MAX_BYTES" envDefault:"1048576"`
	// MaxHoldTime flushes the open batch this long after its first
	// message was added, even if no size trigger fired. Zero disables the
	// hold timer.
	MaxHoldTime time.Duration `env:"BATCH_MAX_HOLD_TIME" envDefault:"10ms"`
}

type pending struct {
	msg pub.Message
	set pub.SetResult
}

// openBatch is the unit of hand-off between Publish and the transport. The
// batch pointer doubles as a generation token: a hold timer that fires
// after its batch was swapped out finds b.current pointing elsewhere and
// does nothing.
type openBatch struct {
	items []pending
	bytes int
	timer pub.Timer
}

// Batcher accumulates messages for a single topic and flushes them as
// batches. It implements pub.Publisher and is safe for concurrent use.
type Batcher struct {
	topic     string
	opts      Options
	transport pub.Transport
	exec      pub.Executor
	logger    *zap.Logger

	mu      sync.Mutex
	current *openBatch
}

// New creates a Batcher for the given topic. Zero option fields keep their
// defaults; negative fields are rejected.
func New(topic string, transport pub.Transport, exec pub.Executor, logger *zap.Logger, opts Options) (*Batcher, error) {
	b := Batcher{
		topic:     topic,
		opts:      opts,
		transport: transport,
		exec:      exec,
		logger:    logger,
		current:   &openBatch{},
	}

	if err := validator.Validate("batcher", b.transport, b.logger); err != nil {
		return nil, fmt.Errorf("failed to validate batcher deps: %w", err)
	}
	if b.exec == nil {
		return nil, fmt.Errorf("failed to validate batcher deps: missing executor")
	}
	if opts.MaxMessages < 0 || opts.MaxBytes < 0 || opts.MaxHoldTime < 0 {
		return nil, fmt.Errorf("batch limits must not be negative: %+v", opts)
	}
	if b.opts.MaxMessages == 0 {
		b.opts.MaxMessages = 100
	}
	if b.opts.MaxBytes == 0 {
		b.opts.MaxBytes = 1 << 20
	}

	b.logger = logger.Named("batcher").With(zap.String("topic", topic))

	return &b, nil
}

// Publish implements pub.Publisher. The returned handle resolves on the
// executor once the batch containing this message completes.
func (b *Batcher) Publish(msg pub.Message) *pub.PublishResult {
	res, set := pub.NewPublishResult()

	b.mu.Lock()
	cur := b.current
	cur.items = append(cur.items, pending{msg: msg, set: set})
	cur.bytes += msg.Size()

	if len(cur.items) == 1 && b.opts.MaxHoldTime > 0 {
		cur.timer = b.exec.AfterFunc(b.opts.MaxHoldTime, func() { b.holdExpired(cur) })
	}

	var due *openBatch
	var reason string
	switch {
	case len(cur.items) >= b.opts.MaxMessages:
		due, reason = b.swapLocked(), "count"
	case cur.bytes >= b.opts.MaxBytes:
		due, reason = b.swapLocked(), "bytes"
	}
	b.mu.Unlock()

	if due != nil {
		b.dispatch(due, reason)
	}

	return res
}

// Flush implements pub.Publisher. It submits the batch open at the time of
// the call; with nothing pending it is a no-op.
func (b *Batcher) Flush() {
	b.mu.Lock()
	due := b.swapLocked()
	b.mu.Unlock()

	if due != nil {
		b.dispatch(due, "flush")
	}
}

// holdExpired runs on the executor when a batch's hold timer fires. A timer
// whose batch was already swapped out is inert.
func (b *Batcher) holdExpired(ob *openBatch) {
	b.mu.Lock()
	if b.current != ob {
		b.mu.Unlock()
		return
	}
	due := b.swapLocked()
	b.mu.Unlock()

	if due != nil {
		b.dispatch(due, "hold")
	}
}

// swapLocked closes the current batch and installs a fresh one. It returns
// nil when there is nothing to send. Callers must hold b.mu.
func (b *Batcher) swapLocked() *openBatch {
	cur := b.current
	if len(cur.items) == 0 {
		return nil
	}
	if cur.timer != nil {
		cur.timer.Stop()
		cur.timer = nil
	}
	b.current = &openBatch{}
	return cur
}

// dispatch hands a closed batch to the transport on the executor and fans
// the response back out to the batch's completion handles.
func (b *Batcher) dispatch(due *openBatch, reason string) {
	b.logger.Debug("flushing batch",
		zap.String("reason", reason),
		zap.Int("messages", len(due.items)),
		zap.Int("bytes", due.bytes),
	)

	b.exec.Go(func() {
		msgs := make([]pub.Message, len(due.items))
		for i, p := range due.items {
			msgs[i] = p.msg
		}

		// Submitted messages cannot be cancelled, so the send is not tied
		// to any caller's context.
		ids, err := b.transport.Send(context.Background(), b.topic, msgs)
		switch {
		case err != nil:
			b.logger.Debug("batch send failed", zap.Error(err))
			for _, p := range due.items {
				p.set("", err)
			}
		case len(ids) != len(due.items):
			err := pub.NewMismatchedIDCountError(len(due.items), len(ids))
			b.logger.Error("transport violated its contract", zap.Error(err))
			for _, p := range due.items {
				p.set("", err)
			}
		default:
			for i, p := range due.items {
				p.set(ids[i], nil)
			}
		}
	})
}
