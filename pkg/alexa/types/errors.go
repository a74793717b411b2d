package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnection is a transport-level failure. Retried with backoff.
	ErrConnection = errors.New("connection error")
	// ErrLogin means the session is not (or no longer) authenticated. Never retried.
	ErrLogin = errors.New("not logged in")
	// ErrTooManyRequests is the service rate limit. Retried with backoff.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrCloseRequested is returned for any exchange attempted after Close.
	ErrCloseRequested = errors.New("close requested")
	// ErrDecode covers malformed frames, unparsable JSON and unexpected markup.
	ErrDecode = errors.New("decode error")
)

// RateLimitError carries the server-provided hint, when there is one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %v)", ErrTooManyRequests, e.RetryAfter)
	}
	return ErrTooManyRequests.Error()
}

func (e *RateLimitError) Unwrap() error {
	return ErrTooManyRequests
}

// IsRetryable reports whether err belongs to a class the request executor retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTooManyRequests)
}
