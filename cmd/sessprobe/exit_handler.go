package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/loykin/sessprobe/internal/common"
)

// Exit statuses of the sessprobe binary
const (
	ExitOK      = 0
	ExitFailed  = 1 // a scenario failed
	ExitHarness = 2 // the harness itself could not do its job
)

// ExitError carries a non-zero exit status out of a command without logging it as a failure
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitHandler provides a testable way to handle program termination
type ExitHandler interface {
	Exit(code int)
	LogFatalError(err error, msg string, keyvals ...any)
}

// DefaultExitHandler implements ExitHandler for production use
type DefaultExitHandler struct {
	logger *common.Logger
}

// NewDefaultExitHandler creates a new default exit handler
func NewDefaultExitHandler() *DefaultExitHandler {
	return &DefaultExitHandler{
		logger: common.GetLogger().WithComponent("main"),
	}
}

// Exit terminates the program with the given exit code
func (h *DefaultExitHandler) Exit(code int) {
	os.Exit(code)
}

// LogFatalError logs a harness error and exits with ExitHarness
func (h *DefaultExitHandler) LogFatalError(err error, msg string, keyvals ...any) {
	allKeyvals := append([]any{"error", err}, keyvals...)
	h.logger.Error(msg, allKeyvals...)
	h.Exit(ExitHarness)
}

// handleCommandError maps an error returned by a command to the process exit
func handleCommandError(h ExitHandler, err error) {
	if err == nil {
		return
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		h.Exit(ee.Code)
		return
	}
	h.LogFatalError(err, "command execution failed")
}

// Global exit handler (can be replaced for testing)
var exitHandler ExitHandler = NewDefaultExitHandler()
