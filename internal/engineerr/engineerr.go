// Package engineerr is the engine's shared error-kind vocabulary,
// generalizing internal/platform/apierr's {Status, Code, Err} shape from
// HTTP status codes to engine-wide error kinds.
package engineerr

import "errors"

// Kind classifies why an operation failed, driving retry and reporting
// decisions across rowindexer, setup, and the source indexer.
type Kind int

const (
	// KindClient means the caller supplied invalid input; retrying
	// without changing the input will not help.
	KindClient Kind = iota
	// KindSkipped means the operation was intentionally not performed
	// (e.g. a stale source_version); not a failure.
	KindSkipped
	// KindRetryable means a transient condition (lock contention,
	// network blip, optimistic-concurrency conflict) that a caller
	// should retry, typically with backoff.
	KindRetryable
	// KindFatalInternal means an invariant the engine itself is
	// responsible for was violated (e.g. a double write to a write-once
	// scope cell); it indicates a bug, not a transient or input issue.
	KindFatalInternal
	// KindHost means a downstream system (tracking store, target,
	// connector) reported a failure outside the engine's control.
	KindHost
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindSkipped:
		return "skipped"
	case KindRetryable:
		return "retryable"
	case KindFatalInternal:
		return "fatal_internal"
	case KindHost:
		return "host"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as an Error of the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Retryable reports whether err (or anything it wraps) is a KindRetryable
// Error.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindRetryable
	}
	return false
}

// IsSkipped reports whether err (or anything it wraps) is a KindSkipped
// Error.
func IsSkipped(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindSkipped
	}
	return false
}

// IsFatal reports whether err (or anything it wraps) is a
// KindFatalInternal Error.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindFatalInternal
	}
	return false
}
