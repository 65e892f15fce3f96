package jobs

import "errors"

var (
	// ErrJobNotFound is returned when a job record does not exist.
	// Workers racing ahead of the submission write tolerate this and
	// leave the message for redelivery.
	ErrJobNotFound = errors.New("job not found")

	// ErrProfileNotFound is returned when a user profile lookup misses.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrConditionFailed is returned when a conditional status update
	// finds the record in an unexpected state. Expected under duplicate
	// delivery; treated as a skip.
	ErrConditionFailed = errors.New("job not in expected status")

	// ErrMalformedKey is returned when a storage key does not decode to
	// a job identifier and original file name.
	ErrMalformedKey = errors.New("malformed storage key")
)
