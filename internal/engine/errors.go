package engine

import (
	"errors"
	"fmt"
)

// InitError reports a failed model load.
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("engine init %s: %v", e.Path, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// InferError reports a failed generation.
type InferError struct {
	Reason string
}

func (e *InferError) Error() string { return "engine infer: " + e.Reason }

// ErrNotInitialized is returned by inference calls before a successful Init.
var ErrNotInitialized = errors.New("engine: model not initialized")

// dependencyUnavailableError signals that the runtime was not built into this
// binary, so callers can report 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err (or anything it wraps) is a
// missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}

// IsInit reports whether err is an InitError.
func IsInit(err error) bool {
	var e *InitError
	return errors.As(err, &e)
}
