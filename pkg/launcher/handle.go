package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/internal/constants"
)

// AppHandle is a running, ready application instance
type AppHandle struct {
	baseURL   string
	port      int
	configDir string
	proc      Process
	grace     time.Duration
	logger    *common.Logger

	once    sync.Once
	termErr error
}

// BaseURL is the http://127.0.0.1:<port> root of the application
func (h *AppHandle) BaseURL() string { return h.baseURL }

// Port is the loopback port the application listens on
func (h *AppHandle) Port() int { return h.port }

// ConfigDir holds the generated sessions.ini; removed by Terminate
func (h *AppHandle) ConfigDir() string { return h.configDir }

// Output returns the tail of the application's output
func (h *AppHandle) Output() string { return h.proc.Output() }

// Terminate stops the application, waits for its port to be released and removes the
// config directory. Only the first call does work; later calls return the same result.
func (h *AppHandle) Terminate(ctx context.Context) error {
	h.once.Do(func() {
		var errs []error
		if err := h.proc.Stop(ctx, h.grace); err != nil {
			errs = append(errs, fmt.Errorf("stop application: %w", err))
		}
		if !waitPortFree(ctx, h.port, constants.DefaultPortReleaseWait) {
			errs = append(errs, fmt.Errorf("port %d still bound after stop", h.port))
		}
		if err := os.RemoveAll(h.configDir); err != nil {
			errs = append(errs, fmt.Errorf("remove config dir: %w", err))
		}
		h.termErr = errors.Join(errs...)
		if h.logger != nil {
			h.logger.Debug("application terminated", "port", h.port, "error", h.termErr)
		}
	})
	return h.termErr
}
