package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a fetch failure for retry purposes.
type ErrorKind int

const (
	// Transient failures (timeouts, connection resets, 5xx, expired session)
	// are retried until the attempt budget runs out.
	Transient ErrorKind = iota
	// Permanent failures (4xx, malformed payload) are recorded as gaps
	// immediately, without further attempts.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified fetch failure.
type Error struct {
	Kind   ErrorKind
	Status int // HTTP status when the server answered, 0 otherwise
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s fetch failure (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s fetch failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a fetch failure that must not be retried.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Permanent
}

// classifyStatus maps an HTTP status code to an error kind. Anything the
// server may recover from (5xx, throttling, auth expiry) is transient; other
// client errors are permanent.
func classifyStatus(status int) ErrorKind {
	switch {
	case status >= 500:
		return Transient
	case status == 401 || status == 403 || status == 408 || status == 429:
		return Transient
	default:
		return Permanent
	}
}

// classifyNetErr maps a transport-level error to an error kind. Anything the
// network may do differently next time (timeouts, resets, refused connections)
// is transient; only an outright cancellation is permanent.
func classifyNetErr(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	return Transient
}

// Policy is the retry schedule for segment fetches: a fixed attempt budget
// with exponential backoff between transient failures.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the standard segment retry budget: 3 attempts,
// 500ms initial backoff doubling up to 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Next decides whether another attempt should follow the given failed attempt
// (1-based) and how long to wait before it. Pure function of its inputs.
func (p Policy) Next(attempt int, kind ErrorKind) (bool, time.Duration) {
	if kind == Permanent {
		return false, 0
	}
	if attempt >= p.MaxAttempts {
		return false, 0
	}
	delay := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return true, delay
}
