package pub

// Publisher defines the interface for submitting messages one at a time.
type Publisher interface {
	// Publish enqueues a single message and returns its completion handle.
	// The handle resolves asynchronously; Publish never blocks on I/O.
	Publish(msg Message) *PublishResult

	// Flush submits whatever is currently pending, regardless of
	// configured limits. Flushing with nothing pending is a no-op.
	Flush()
}

// PublisherFactory builds the Publisher that owns a single ordering key.
// The router invokes it at most once per distinct key.
type PublisherFactory func(orderingKey string) Publisher
