package task

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is the hard stop: no further external calls may be
// incurred for the period or task that raised it.
var ErrBudgetExceeded = errors.New("budget exceeded")

// TransientError wraps a timeout or network failure from a collaborator.
// Transient errors are retried locally with bounded backoff and never
// surface past the orchestrator unless retries are exhausted.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a transient collaborator failure.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a transient failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StructuralError indicates a collaborator returned malformed or
// unusable output. Structural failures are not retried with backoff;
// they count against the relevant retry budget instead.
type StructuralError struct {
	Op     string
	Detail string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural failure in %s: %s", e.Op, e.Detail)
}

// Structural builds a structural collaborator failure.
func Structural(op, detail string) error {
	return &StructuralError{Op: op, Detail: detail}
}

// IsStructural reports whether err is (or wraps) a structural failure.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}
