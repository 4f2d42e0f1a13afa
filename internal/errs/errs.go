// Package errs defines the error taxonomy for the sync core.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthorized is returned when a membership check fails. Never retried.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotFound is returned when a referenced entity is absent.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input, before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateReaction is returned when adding a reaction that already
	// exists for the same (message, user, emoji) triple.
	ErrDuplicateReaction = errors.New("duplicate reaction")

	// ErrTransientStore is returned for network or backend failures.
	// Eligible for caller-initiated retry with backoff; the core itself
	// does not retry.
	ErrTransientStore = errors.New("transient store error")

	// ErrCreateFailed is returned when a multi-row creation failed partway
	// and was compensated. No partial state remains, so the caller may
	// retry the whole operation.
	ErrCreateFailed = errors.New("create failed")
)

// NotAuthorized wraps ErrNotAuthorized with context.
func NotAuthorized(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotAuthorized}, args...)...)
}

// NotFound wraps ErrNotFound with context.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Validation wraps ErrValidation with context.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Transient wraps a backend failure as ErrTransientStore, preserving the
// cause in the message.
func Transient(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransientStore, op, cause)
}

// IsRetryable reports whether the caller may retry the operation.
// Compensated creates are retryable because no partial state remains.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrCreateFailed)
}
