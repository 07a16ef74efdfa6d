package launcher

import (
	"errors"
	"fmt"
)

// Launch error kinds
var (
	ErrTimeout   = errors.New("readiness timeout")
	ErrPortInUse = errors.New("port in use")
	ErrNoPort    = errors.New("no free port")
	ErrStart     = errors.New("start failed")
)

// LaunchError reports why the application could not be brought up
type LaunchError struct {
	Kind error
	Port int
	Err  error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("launch application: %v", e.Kind)
	if e.Port > 0 {
		msg += fmt.Sprintf(" (port %d)", e.Port)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
