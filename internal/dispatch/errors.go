package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when no Connected session is available.
	// Transient: callers may retry after polling status.
	ErrNotConnected = errors.New("session not connected")

	// ErrQueueFull is returned when the send queue is at capacity.
	ErrQueueFull = errors.New("send queue is full")

	// ErrStopped is returned for sends still queued when the gateway stops.
	ErrStopped = errors.New("dispatch gateway stopped")
)

// SendFailedError wraps a transport-level failure for one send. It is not
// retried here.
type SendFailedError struct {
	Cause error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Cause)
}

func (e *SendFailedError) Unwrap() error { return e.Cause }

// IsSendFailed reports whether err is a SendFailedError.
func IsSendFailed(err error) bool {
	var sf *SendFailedError
	return errors.As(err, &sf)
}
