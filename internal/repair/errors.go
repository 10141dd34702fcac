package repair

import (
	"errors"
	"fmt"
)

// TransientError wraps an invoker failure that may succeed on a later attempt,
// such as a timeout or an overloaded asset platform.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient repair failure: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error { return e.Err }

// IsRetryable returns true as transient failures can be retried.
func (e *TransientError) IsRetryable() bool { return true }

// IsRetryable reports whether err advertises itself as retryable.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}
