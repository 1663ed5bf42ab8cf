package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrSendFailed wraps a failed optimistic send after its rollback. It is
	// returned to the original caller and never retried internally.
	ErrSendFailed = errors.New("message send failed")
	// ErrRateLimited rejects a send before any optimistic insert happens.
	ErrRateLimited = errors.New("send rate limited")
	// ErrStaleLoad marks a page response that arrived after its room was
	// reset or closed; the response was dropped, not merged.
	ErrStaleLoad = errors.New("page load superseded")
	// ErrManagerDisposed is returned by operations on a disposed manager.
	ErrManagerDisposed = errors.New("connection manager disposed")
	// ErrNotInErrorState rejects Reconnect on a subscription that is not
	// terminally failed.
	ErrNotInErrorState = errors.New("subscription is not in error state")
)

// ConnectionError classifies a transport failure. Transient errors are
// retried internally with backoff and surface only as status changes; fatal
// ones move the subscription to the terminal error state.
type ConnectionError struct {
	Transient bool
	Err       error
}

func (e *ConnectionError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s connection error: %v", kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ValidationError rejects malformed drafts before any optimistic insert.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}
