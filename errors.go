package fnhost

import "errors"

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

type (
	// ResilienceError identifies errors produced by the host shell itself,
	// as opposed to errors returned by the wrapped handler. Callers use it
	// to tell rejections and timeouts apart from handler failures.
	//nolint:iface // exported for consumer error classification.
	ResilienceError interface {
		error
		// IsResilience reports whether the error originates from the shell.
		IsResilience() bool
	}

	// nonRetryableError marks a handler failure that must not be retried.
	nonRetryableError struct {
		err error
	}

	// resilienceError is the concrete type behind every sentinel.
	resilienceError string
)

// Sentinel errors.
var (
	// ErrRejected is returned when admission is denied. It is always joined
	// with one of ErrOverloaded, ErrUnhealthy or ErrThrottled.
	ErrRejected error = resilienceError("request rejected")
	// ErrOverloaded means maxOutstandingRequests was reached.
	ErrOverloaded error = resilienceError("too many outstanding requests")
	// ErrUnhealthy means the health monitor disabled request intake.
	ErrUnhealthy error = resilienceError("host unhealthy")
	// ErrThrottled means the dynamic throttle reported resource pressure.
	ErrThrottled error = resilienceError("host under resource pressure")
	// ErrTimeout is returned when the ticket deadline elapses.
	ErrTimeout error = resilienceError("function timeout")
	// ErrRetriesExhausted wraps the last handler error once every attempt
	// has failed.
	ErrRetriesExhausted error = resilienceError("retries exhausted")
)

func (e resilienceError) Error() string { return string(e) }

// IsResilience reports true for every shell sentinel.
func (resilienceError) IsResilience() bool { return true }

func (e *nonRetryableError) Error() string { return "non-retryable: " + e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err as a failure that must propagate without consuming
// a retry, such as malformed input. Returns nil if err is nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}

	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was marked with [NonRetryable].
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}

	var nr *nonRetryableError

	return errors.As(err, &nr)
}

// IsRejected reports whether err is an admission rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsResilience reports whether err, or any error it wraps, was produced by
// the shell rather than the handler.
func IsResilience(err error) bool {
	var re ResilienceError

	return errors.As(err, &re) && re.IsResilience()
}
