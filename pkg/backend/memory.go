package backend

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process backend. The reference application can store its sessions
// in it directly when served in the same process, which keeps self-tests free of Docker.
type Memory struct {
	spec Spec

	resetMu sync.Mutex
	mu      sync.RWMutex
	items   map[string]memoryItem
	closed  bool

	user, pass string
	sasl       bool
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// NewMemory returns an empty in-process backend
func NewMemory(spec Spec) *Memory {
	return &Memory{spec: spec, items: map[string]memoryItem{}}
}

func (m *Memory) Name() string    { return string(TypeMemory) }
func (m *Memory) Address() string { return "" }

func (m *Memory) Capabilities() Capabilities {
	return Capabilities{SASL: m.spec.SASL, BinaryProtocol: true}
}

func (m *Memory) Reset(ctx context.Context) error {
	m.resetMu.Lock()
	defer m.resetMu.Unlock()
	if err := ctx.Err(); err != nil {
		return newError("reset", m.Name(), ErrReset, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return newError("reset", m.Name(), ErrReset, errClosed)
	}
	m.items = map[string]memoryItem{}
	return nil
}

func (m *Memory) ConfigureSASL(_ context.Context, user, pass string) error {
	if !m.spec.SASL {
		return newError("configure-sasl", m.Name(), ErrUnsupported, nil)
	}
	m.mu.Lock()
	m.user, m.pass, m.sasl = user, pass, true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Credentials() (string, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user, m.pass, m.sasl
}

func (m *Memory) Shutdown(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.items = map[string]memoryItem{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	now := time.Now()
	for _, it := range m.items {
		if it.expires.IsZero() || now.Before(it.expires) {
			n++
		}
	}
	return n, nil
}

// Get returns a stored value; expired entries are reported as absent
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	if !ok || (!it.expires.IsZero() && time.Now().After(it.expires)) {
		return nil, false
	}
	return append([]byte(nil), it.value...), true
}

// Set stores value under key; ttl <= 0 keeps it until the next reset
func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expires = time.Now().Add(ttl)
	}
	m.mu.Lock()
	if !m.closed {
		m.items[key] = it
	}
	m.mu.Unlock()
}

// Delete removes key
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}
