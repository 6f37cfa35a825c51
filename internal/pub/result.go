package pub

import "context"

// PublishResult is the completion handle returned by Publish. It resolves
// exactly once, with either the server-assigned message ID or an error.
// The reader half is returned to the caller; the writer half is the
// SetResult function handed to whoever owns the batch.
type PublishResult struct {
	ready chan struct{}
	id    string
	err   error
}

// SetResult resolves a PublishResult. It must be called exactly once;
// calling it a second time is a programming error and panics.
type SetResult func(id string, err error)

// NewPublishResult creates an unresolved PublishResult and the function
// that resolves it.
func NewPublishResult() (*PublishResult, SetResult) {
	r := &PublishResult{ready: make(chan struct{})}
	set := func(id string, err error) {
		select {
		case <-r.ready:
			panic("pub: PublishResult resolved twice")
		default:
		}
		r.id = id
		r.err = err
		close(r.ready)
	}
	return r, set
}

// Ready returns a channel that is closed once the result is resolved.
func (r *PublishResult) Ready() <-chan struct{} {
	return r.ready
}

// Get blocks until the result resolves or ctx is done. On success it
// returns the server-assigned message ID.
func (r *PublishResult) Get(ctx context.Context) (string, error) {
	select {
	case <-r.ready:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
