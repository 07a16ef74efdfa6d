package backend

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is against any error returned by this package.
var (
	ErrUnsupported = errors.New("unsupported")
	ErrUnreachable = errors.New("unreachable")
	ErrReset       = errors.New("reset failed")
	ErrShutdown    = errors.New("shutdown failed")
	ErrConfig      = errors.New("invalid configuration")
)

// Error describes a failed backend operation
type Error struct {
	Op      string // start, reset, configure-sasl, shutdown
	Backend string
	Kind    error
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, backend string, kind, err error) *Error {
	return &Error{Op: op, Backend: backend, Kind: kind, Err: err}
}

var errClosed = errors.New("backend is shut down")
