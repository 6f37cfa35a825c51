// Package transport provides pub.Transport implementations. The Couchbase
// transport assigns message IDs by reserving a contiguous offset range per
// batch, so positional order in the request carries through to the IDs.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"

	"batchpub/internal/couchbase"
	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

// record is a stored message document.
type record struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	OrderingKey string            `json:"orderingKey,omitempty"`
	Offset      uint64            `json:"offset"`
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime time.Time         `json:"publishTime"`

	couchbase.Cas `json:"-"`
}

// offset tracks the next write position for a topic.
type offset struct {
	ID string `json:"id"`
	N  uint64 `json:"n"`

	couchbase.Cas `json:"-"`
}

func messageKey(topic string, off uint64) string {
	return fmt.Sprintf("message::%s::%d", topic, off)
}

func offsetKey(topic string) string {
	return fmt.Sprintf("offset::%s", topic)
}

// Couchbase implements pub.Transport on top of a Couchbase bucket.
type Couchbase struct {
	messages     *couchbase.Couchbase[record]
	offsets      *couchbase.Couchbase[offset]
	transactions *couchbase.Transactions
	logger       *zap.Logger
}

// NewCouchbase creates a Couchbase transport using the "messages" and
// "offsets" collections of the given scope.
func NewCouchbase(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string, logger *zap.Logger) (*Couchbase, error) {
	messages, err := couchbase.NewCouchbase[record](cluster, bucket, bucket.Scope(scope).Collection("messages"))
	if err != nil {
		return nil, fmt.Errorf("failed to create messages store: %w", err)
	}

	offsets, err := couchbase.NewCouchbase[offset](cluster, bucket, bucket.Scope(scope).Collection("offsets"))
	if err != nil {
		return nil, fmt.Errorf("failed to create offsets store: %w", err)
	}

	transactions, err := couchbase.NewTransactions(cluster)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactions: %w", err)
	}

	t := Couchbase{
		messages:     messages,
		offsets:      offsets,
		transactions: transactions,
		logger:       logger,
	}

	if err := validator.Validate("transport", t.messages, t.offsets, t.transactions, t.logger); err != nil {
		return nil, fmt.Errorf("failed to validate transport deps: %w", err)
	}

	t.logger = logger.Named("couchbase-transport")

	return &t, nil
}

// Send implements pub.Transport. It reserves len(msgs) consecutive offsets
// for the topic inside a transaction, then inserts one document per
// message in batch order and returns the derived message IDs.
func (t *Couchbase) Send(ctx context.Context, topic string, msgs []pub.Message) ([]string, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	base, err := t.reserveOffsets(topic, uint64(len(msgs)))
	if err != nil {
		return nil, fmt.Errorf("failed to reserve offsets for topic %s: %w", topic, err)
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(msgs))
	for i, m := range msgs {
		off := base + uint64(i)
		doc := record{
			ID:          messageKey(topic, off),
			Topic:       topic,
			OrderingKey: m.OrderingKey,
			Offset:      off,
			Data:        m.Data,
			Attributes:  m.Attributes,
			PublishTime: now,
		}

		err := t.messages.Insert(ctx, doc.ID, doc, &gocb.InsertOptions{
			Expiry: 7 * 24 * time.Hour,
		})
		if err != nil && !errors.Is(err, gocb.ErrDocumentExists) {
			return nil, fmt.Errorf("failed to insert message with ID %s: %w", doc.ID, err)
		}

		ids = append(ids, doc.ID)
	}

	t.logger.Debug("stored batch",
		zap.String("topic", topic),
		zap.Int("messages", len(msgs)),
		zap.Uint64("base_offset", base),
	)

	return ids, nil
}

// Offset returns the next write position for a topic, 0 for a topic that
// has never been published to.
func (t *Couchbase) Offset(ctx context.Context, topic string) (uint64, error) {
	off, err := t.offsets.Get(ctx, offsetKey(topic), nil)
	switch {
	case err == nil:
		return off.N, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return 0, nil
	default:
		return 0, fmt.Errorf("failed to get offset for topic %s: %w", topic, err)
	}
}

// reserveOffsets advances the topic's offset document by n inside a
// transaction and returns the first offset of the reserved range.
func (t *Couchbase) reserveOffsets(topic string, n uint64) (uint64, error) {
	key := offsetKey(topic)

	var base uint64
	_, err := t.transactions.Transaction(func(r couchbase.TransactionRunner) error {
		retry := true
		for retry {
			retry = false

			res, err := r.Get(t.offsets, key)
			switch {
			case err == nil:
			case errors.Is(err, gocb.ErrDocumentNotFound):
				base = 0
				_, err := r.Insert(t.offsets, key, offset{ID: key, N: n})
				switch {
				case err == nil:
					return nil
				case errors.Is(err, gocb.ErrDocumentExists):
					// allow retry if the document already exists
					retry = true
					continue
				default:
					return fmt.Errorf("failed to insert new offset: %w", err)
				}
			default:
				return fmt.Errorf("failed to get offset: %w", err)
			}

			var existing offset
			if err := res.Content(&existing); err != nil {
				return fmt.Errorf("failed to decode offset: %w", err)
			}

			base = existing.N
			existing.N += n
			if _, err := r.Replace(res, existing); err != nil {
				return fmt.Errorf("failed to replace offset: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to commit offset reservation: %w", err)
	}

	return base, nil
}
