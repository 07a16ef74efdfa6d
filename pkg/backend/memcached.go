package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/internal/mcbin"
)

const memcachedTimeout = 2 * time.Second

// Memcached controls a memcached server. Plain servers are driven through gomemcache; a
// server with SASL enabled only speaks the binary protocol, so it is driven through mcbin
// authenticated as the spec's own account.
type Memcached struct {
	spec    Spec
	address string
	client  *memcache.Client
	binary  *mcbin.Client
	ctr     *container
	logger  *common.Logger

	resetMu sync.Mutex
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	stopErr error

	users      map[string]string
	user, pass string
	sasl       bool
}

func newMemcached(ctx context.Context, spec Spec, address string, ctr *container) (*Memcached, error) {
	m := &Memcached{
		spec:    spec,
		address: address,
		ctr:     ctr,
		logger:  common.GetLogger().WithComponent("backend").WithBackend(string(TypeMemcached)),
	}
	if spec.SASL {
		c, err := mcbin.Dial(ctx, address, spec.Username, spec.Password, memcachedTimeout)
		if err == nil {
			err = c.Noop()
		}
		if err != nil {
			if c != nil {
				_ = c.Close()
			}
			return nil, newError("start", m.Name(), ErrUnreachable, err)
		}
		m.binary = c
		m.users = map[string]string{spec.Username: spec.Password}
		return m, nil
	}

	m.client = memcache.New(address)
	m.client.Timeout = memcachedTimeout
	if err := m.client.Ping(); err != nil {
		return nil, newError("start", m.Name(), ErrUnreachable, err)
	}
	return m, nil
}

func (m *Memcached) Name() string    { return string(TypeMemcached) }
func (m *Memcached) Address() string { return m.address }

func (m *Memcached) Capabilities() Capabilities {
	return Capabilities{SASL: m.spec.SASL, BinaryProtocol: true}
}

// Reset issues flush_all, or a binary flush on SASL servers
func (m *Memcached) Reset(ctx context.Context) error {
	m.resetMu.Lock()
	defer m.resetMu.Unlock()
	if err := m.usable(ctx, "reset"); err != nil {
		return err
	}
	var err error
	if m.binary != nil {
		err = m.binary.Flush()
	} else {
		err = m.client.FlushAll()
	}
	if err != nil {
		return newError("reset", m.Name(), ErrReset, err)
	}
	m.logger.Debug("flushed", "address", m.address)
	return nil
}

// ConfigureSASL adds user to the server's password database and checks that it can log
// in. External servers are not modified; the credentials must already be provisioned.
func (m *Memcached) ConfigureSASL(ctx context.Context, user, pass string) error {
	if !m.spec.SASL {
		return newError("configure-sasl", m.Name(), ErrUnsupported, nil)
	}
	if err := m.usable(ctx, "configure-sasl"); err != nil {
		return err
	}
	if user == "" {
		return newError("configure-sasl", m.Name(), ErrConfig, errors.New("empty sasl user"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctr != nil {
		users := make(map[string]string, len(m.users)+1)
		for u, p := range m.users {
			users[u] = p
		}
		users[user] = pass
		if err := m.ctr.writeFile(ctx, saslPwdbPath, saslPwdb(users)); err != nil {
			return newError("configure-sasl", m.Name(), ErrConfig, err)
		}
		m.users = users
	}

	c, err := mcbin.Dial(ctx, m.address, user, pass, memcachedTimeout)
	if err != nil {
		return newError("configure-sasl", m.Name(), ErrConfig, err)
	}
	_ = c.Close()

	m.user, m.pass, m.sasl = user, pass, true
	m.logger.Debug("sasl configured", "sasl_user", user, "sasl_pass", pass)
	return nil
}

func (m *Memcached) Credentials() (string, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user, m.pass, m.sasl
}

func (m *Memcached) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		if m.binary != nil {
			_ = m.binary.Close()
		}
		if err := m.ctr.terminate(ctx, m.spec.ShutdownGrace); err != nil {
			m.stopErr = newError("shutdown", m.Name(), ErrShutdown, err)
		}
	})
	return m.stopErr
}

func (m *Memcached) usable(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return newError(op, m.Name(), ErrUnreachable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return newError(op, m.Name(), ErrUnreachable, errClosed)
	}
	return nil
}
