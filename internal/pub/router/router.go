// Package router fans single-message publishes out to per-ordering-key
// publishers. Every message sharing an ordering key is handled by one and
// only one publisher instance, so that instance's order preservation
// extends to key-scoped global order; distinct keys proceed fully in
// parallel.
package router

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

// Router owns the registry of per-key publishers. It implements
// pub.Publisher itself, so callers and decorators treat it like any other
// publisher. Instances are created lazily by the factory and live until
// the Router is discarded.
type Router struct {
	factory pub.PublisherFactory
	logger  *zap.Logger

	mu   sync.RWMutex
	keys map[string]pub.Publisher
}

// New creates a Router. The factory must return a ready-to-use publisher
// for any key, including the empty string.
func New(factory pub.PublisherFactory, logger *zap.Logger) (*Router, error) {
	r := Router{
		factory: factory,
		logger:  logger,
		keys:    make(map[string]pub.Publisher),
	}

	if err := validator.Validate("router", r.factory, r.logger); err != nil {
		return nil, fmt.Errorf("failed to validate router deps: %w", err)
	}

	r.logger = logger.Named("router")

	return &r, nil
}

// Publish implements pub.Publisher. It routes the message to the publisher
// owning its ordering key, creating one on first use. The delegated call
// runs outside the registry lock so a slow key never stalls the others.
func (r *Router) Publish(msg pub.Message) *pub.PublishResult {
	return r.publisher(msg.OrderingKey).Publish(msg)
}

// Flush implements pub.Publisher. It flushes every publisher currently in
// the registry; keys with nothing pending flush as a no-op.
func (r *Router) Flush() {
	for _, p := range r.snapshot() {
		p.Flush()
	}
}

// KeyCount returns the number of ordering keys with a live publisher.
func (r *Router) KeyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// publisher resolves the instance for a key, constructing and registering
// it on first use. Only the lookup/insert holds a lock.
func (r *Router) publisher(key string) pub.Publisher {
	r.mu.RLock()
	p, ok := r.keys[key]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have won the race since the read lock.
	if p, ok := r.keys[key]; ok {
		return p
	}

	p = r.factory(key)
	r.keys[key] = p
	r.logger.Debug("created publisher for ordering key", zap.String("ordering_key", key))

	return p
}

// snapshot copies the registry so Flush never holds the lock while
// delegating.
func (r *Router) snapshot() []pub.Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]pub.Publisher, 0, len(r.keys))
	for _, p := range r.keys {
		out = append(out, p)
	}
	return out
}
