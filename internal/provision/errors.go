package provision

import (
	"context"
	"errors"
	"fmt"
)

// IOError wraps a read/write/transfer failure with the operation that failed.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("provision: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provision: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error { return &IOError{Op: op, Path: path, Err: err} }

// IntegrityError reports a checksum mismatch. Actual carries the computed
// digest for diagnostics.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("provision: checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// IsIO reports whether err is (or wraps) an IOError.
func IsIO(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var e *IntegrityError
	return errors.As(err, &e)
}

// IsCancelled reports whether err was caused by context cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
