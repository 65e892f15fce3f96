package consumer

import "errors"

var (
	// ErrMalformedMessage marks an unparseable or incomplete payload.
	// The message is rejected without requeue (dead-letter path); the
	// consumer loop never exits because of one bad message.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrHoldMessage tells the runtime to neither ack nor nack: the
	// message stays outstanding and is redelivered when the channel
	// closes. Used when a duplicate-delivery race is lost, so duplicate
	// work stays operationally visible.
	ErrHoldMessage = errors.New("message held for redelivery")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
