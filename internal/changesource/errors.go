package changesource

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindRateLimited     ErrorKind = "rate_limited"
	KindNotFound        ErrorKind = "not_found"
	KindTransient       ErrorKind = "transient"
	KindUnknown         ErrorKind = "unknown"
)

// Sentinels for errors.Is checks against *Error values.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrTransient       = &Error{Kind: KindTransient}
	ErrUnknown         = &Error{Kind: KindUnknown}
)

// Error is a classified provider failure.
type Error struct {
	Kind ErrorKind
	Op   string
	// RetryAfter is the provider's back-off hint for rate limiting.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err. Context deadlines count as
// transient; anything unclassified is unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}
