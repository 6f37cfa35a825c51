package pub

import "context"

// Transport sends one ordered batch of messages to a single topic.
//
// A successful Send returns one server-assigned ID per input message, in
// the same order. Callers treat a length mismatch between messages and IDs
// as a contract violation (see NewMismatchedIDCountError). Send is invoked
// from an Executor context, never from a caller's Publish call.
type Transport interface {
	Send(ctx context.Context, topic string, msgs []Message) ([]string, error)
}
