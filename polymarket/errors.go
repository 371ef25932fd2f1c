package polymarket

import (
	"errors"
	"fmt"
)

// Adapter error taxonomy. The execution and reconciliation layers classify
// failures with these types; raw adapter errors never reach the decision
// engine.

// TransientError wraps a network or timeout failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError is a definitive refusal by the exchange (bad order,
// insufficient funds). Not retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return fmt.Sprintf("rejected: %s", e.Reason) }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is a permanent exchange rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
