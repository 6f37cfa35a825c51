package pub

import (
	"errors"
	"fmt"
)

// ErrMismatchedIDCount reports that a transport returned a message-ID list
// whose length does not match the batch it was given. This is a violated
// collaborator contract, not a retryable condition.
var ErrMismatchedIDCount = errors.New("mismatched message id count")

// NewMismatchedIDCountError builds the per-message error surfaced when a
// transport response does not line up with the batch that produced it.
func NewMismatchedIDCountError(want, got int) error {
	return fmt.Errorf("%w: expected %d ids, received %d", ErrMismatchedIDCount, want, got)
}
