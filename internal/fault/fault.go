// Package fault defines the error taxonomy shared by every component of the core.
//
// Only three kinds are ever returned as errors: configuration problems (fatal at
// startup), validation rejections and aborted transactions (both surfaced to the
// proposer). Degraded operation is reported as a value, and detected conflicts are
// modeled outcomes rather than failures.
package fault

import (
	"errors"
	"fmt"
)

// #region kinds

// Kind classifies a failure.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindValidation       Kind = "validation"
	KindTransactionAbort Kind = "transaction_abort"
	KindDegraded         Kind = "degraded"
)

// Sentinels for errors.Is matching. A *Error matches the sentinel of its Kind.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrValidation       = errors.New("validation error")
	ErrTransactionAbort = errors.New("transaction aborted")
	ErrDegraded         = errors.New("degraded mode")
)

// #endregion kinds

// #region error

// Error is a classified failure raised by an operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrTransactionAbort:
		return e.Kind == KindTransactionAbort
	case ErrDegraded:
		return e.Kind == KindDegraded
	}
	return false
}

// #endregion error

// #region constructors

// Configuration wraps err as a fatal configuration error.
func Configuration(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Validation builds a validation rejection with a formatted reason.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Abort wraps err as an aborted transaction.
func Abort(op string, err error) error {
	return &Error{Kind: KindTransactionAbort, Op: op, Err: err}
}

// Degraded wraps err as a degraded-mode condition.
func Degraded(op string, err error) error {
	return &Error{Kind: KindDegraded, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// #endregion constructors
