package backend

import (
	"context"
	"fmt"
	"sync"
)

// StartFunc provisions a backend
type StartFunc func(ctx context.Context, spec Spec) (Controller, error)

// Pool hands out controllers per named backend. Specs marked Shared reuse one running
// instance across scenarios; everything else gets a fresh instance per Acquire.
type Pool struct {
	start StartFunc

	mu      sync.Mutex
	entries map[string]*sharedEntry
}

type sharedEntry struct {
	ctl  Controller
	refs int
	// sem is held by one scenario at a time, from its first Reset until its Shutdown
	sem chan struct{}
}

// NewPool returns a pool provisioning through start, or Start when nil
func NewPool(start StartFunc) *Pool {
	if start == nil {
		start = Start
	}
	return &Pool{start: start, entries: map[string]*sharedEntry{}}
}

// Acquire returns a controller for the named backend
func (p *Pool) Acquire(ctx context.Context, name string, spec Spec) (Controller, error) {
	if !spec.Shared {
		return p.start(ctx, spec)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		ctl, err := p.start(ctx, spec)
		if err != nil {
			return nil, err
		}
		e = &sharedEntry{ctl: ctl, sem: make(chan struct{}, 1)}
		p.entries[name] = e
	}
	e.refs++
	return &sharedHandle{pool: p, name: name, entry: e}, nil
}

// Close shuts down every shared instance still referenced
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	entries := p.entries
	p.entries = map[string]*sharedEntry{}
	p.mu.Unlock()

	var first error
	for _, e := range entries {
		if err := e.ctl.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Pool) release(ctx context.Context, name string, e *sharedEntry) error {
	p.mu.Lock()
	e.refs--
	last := e.refs <= 0
	if last && p.entries[name] == e {
		delete(p.entries, name)
	}
	p.mu.Unlock()
	if !last {
		return nil
	}
	return e.ctl.Shutdown(ctx)
}

// sharedHandle is one scenario's view of a shared controller
type sharedHandle struct {
	pool  *Pool
	name  string
	entry *sharedEntry

	mu     sync.Mutex
	held   bool
	closed bool
}

// Shared wraps a single controller so that scenarios using it exclude each other between
// their first Reset and their Shutdown; the last Shutdown stops the backend.
func Shared(ctl Controller, n int) []Controller {
	p := &Pool{entries: map[string]*sharedEntry{}}
	e := &sharedEntry{ctl: ctl, refs: n, sem: make(chan struct{}, 1)}
	p.entries[ctl.Name()] = e
	out := make([]Controller, n)
	for i := range out {
		out[i] = &sharedHandle{pool: p, name: ctl.Name(), entry: e}
	}
	return out
}

func (h *sharedHandle) Name() string               { return h.entry.ctl.Name() }
func (h *sharedHandle) Address() string            { return h.entry.ctl.Address() }
func (h *sharedHandle) Capabilities() Capabilities { return h.entry.ctl.Capabilities() }

// Unwrap returns the shared controller
func (h *sharedHandle) Unwrap() Controller { return h.entry.ctl }

func (h *sharedHandle) Reset(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return newError("reset", h.Name(), ErrReset, errClosed)
	}
	held := h.held
	h.mu.Unlock()

	if !held {
		select {
		case h.entry.sem <- struct{}{}:
		case <-ctx.Done():
			return newError("reset", h.Name(), ErrReset, fmt.Errorf("waiting for shared backend: %w", ctx.Err()))
		}
		h.mu.Lock()
		h.held = true
		h.mu.Unlock()
	}
	return h.entry.ctl.Reset(ctx)
}

func (h *sharedHandle) ConfigureSASL(ctx context.Context, user, pass string) error {
	return h.entry.ctl.ConfigureSASL(ctx, user, pass)
}

func (h *sharedHandle) Credentials() (string, string, bool) {
	if c, ok := h.entry.ctl.(Credentialed); ok {
		return c.Credentials()
	}
	return "", "", false
}

func (h *sharedHandle) Keys(ctx context.Context) (int, error) {
	if in, ok := h.entry.ctl.(Inspector); ok {
		return in.Keys(ctx)
	}
	return 0, newError("keys", h.Name(), ErrUnsupported, nil)
}

func (h *sharedHandle) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	held := h.held
	h.held = false
	h.mu.Unlock()

	if held {
		<-h.entry.sem
	}
	return h.pool.release(ctx, h.name, h.entry)
}

// Underlying returns the controller beneath any shared wrappers
func Underlying(ctl Controller) Controller {
	for {
		u, ok := ctl.(interface{ Unwrap() Controller })
		if !ok {
			return ctl
		}
		ctl = u.Unwrap()
	}
}
