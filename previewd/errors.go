package previewd

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCacheMiss = errors.New("cache miss")

	// ErrExtractTimeout is reported when an extraction exceeded its deadline.
	// It is also used as a cancellation cause to tell a hit deadline apart
	// from a caller-driven cancel.
	ErrExtractTimeout = errors.New("extraction deadline exceeded")
)

// DeniedError is returned by the policy gate when a thumbnail attempt is not
// worth the network cost. It is a deliberate skip, not a failure.
type DeniedError struct {
	Reason string
}

func (err *DeniedError) Error() string {
	return "thumbnail denied: " + err.Reason
}

// FetchError wraps an error that occurred while reading bytes from a remote
// source.
type FetchError struct {
	Err error
}

func (err *FetchError) Error() string {
	return fmt.Sprintf("couldn't fetch remote content: %s", err.Err)
}

func (err *FetchError) Unwrap() error {
	return err.Err
}

// DecodeError wraps a codec or render error for content that was fetched
// successfully.
type DecodeError struct {
	Err error
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("couldn't decode content: %s", err.Err)
}

func (err *DecodeError) Unwrap() error {
	return err.Err
}

// IsCancel reports whether an error is a caller-driven cancellation.
// A timeout is not a cancel: it reflects the content (or the link to it),
// while a cancel only reflects that nobody is looking anymore.
func IsCancel(err error) bool {
	if errors.Is(err, ErrExtractTimeout) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
