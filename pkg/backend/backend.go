// Package backend starts, resets and stops the session storage the application under test
// persists sessions into. Controllers exist for memcached, redis and an in-process memory
// store; memcached and redis run either in a throwaway container or at an external address.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/sessprobe/internal/constants"
)

// Type names a session storage implementation
type Type string

const (
	TypeMemcached Type = "memcached"
	TypeRedis     Type = "redis"
	TypeMemory    Type = "memory"
)

// Mode selects how a backend is provisioned
type Mode string

const (
	ModeContainer Mode = "container"
	ModeExternal  Mode = "external"
)

// Capabilities advertises optional features of a running backend
type Capabilities struct {
	SASL           bool
	BinaryProtocol bool
}

// Controller manages one backend instance for the lifetime of a scenario
type Controller interface {
	// Name is the backend type, used as the session handler name
	Name() string
	// Address is the host:port the application should connect to; empty for memory
	Address() string
	// Reset drops all stored session state. Calls are serialized per instance.
	Reset(ctx context.Context) error
	// ConfigureSASL enables authentication; ErrUnsupported when the build lacks SASL
	ConfigureSASL(ctx context.Context, user, pass string) error
	// Shutdown releases every resource; safe to call more than once
	Shutdown(ctx context.Context) error
	Capabilities() Capabilities
}

// Inspector is implemented by controllers that can count stored keys
type Inspector interface {
	Keys(ctx context.Context) (int, error)
}

// Credentialed is implemented by controllers that remember configured SASL credentials
type Credentialed interface {
	Credentials() (user, pass string, ok bool)
}

// Spec describes a backend to provision
type Spec struct {
	Type          Type          `mapstructure:"type" yaml:"type"`
	Mode          Mode          `mapstructure:"mode" yaml:"mode"`
	Image         string        `mapstructure:"image" yaml:"image"`
	Address       string        `mapstructure:"address" yaml:"address"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password"`
	SASL          bool          `mapstructure:"sasl" yaml:"sasl"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	Shared        bool          `mapstructure:"shared" yaml:"shared"`
}

// WithDefaults fills unset fields
func (s Spec) WithDefaults() Spec {
	s.Type = Type(strings.ToLower(strings.TrimSpace(string(s.Type))))
	if s.Mode == "" {
		if s.Address != "" {
			s.Mode = ModeExternal
		} else {
			s.Mode = ModeContainer
		}
	}
	if s.Image == "" {
		switch s.Type {
		case TypeRedis:
			s.Image = constants.DefaultRedisImage
		case TypeMemcached:
			s.Image = constants.DefaultMemcacheImage
			if s.SASL {
				s.Image = constants.DefaultMemcacheSASLImage
			}
		}
	}
	if s.Type == TypeMemcached && s.SASL && s.Mode == ModeContainer && s.Username == "" {
		s.Username = constants.DefaultSASLAdminUser
	}
	if s.ShutdownGrace <= 0 {
		s.ShutdownGrace = constants.DefaultShutdownGrace
	}
	return s
}

// Validate checks the spec after defaults are applied
func (s Spec) Validate() error {
	switch s.Type {
	case TypeMemcached, TypeRedis:
	case TypeMemory:
		return nil
	case "":
		return fmt.Errorf("backend type is required")
	default:
		return fmt.Errorf("unknown backend type %q", s.Type)
	}
	switch s.Mode {
	case ModeContainer:
		if s.Image == "" {
			return fmt.Errorf("%s: container mode requires an image", s.Type)
		}
	case ModeExternal:
		if s.Address == "" {
			return fmt.Errorf("%s: external mode requires an address", s.Type)
		}
	default:
		return fmt.Errorf("%s: unknown mode %q", s.Type, s.Mode)
	}
	if s.Type == TypeMemcached {
		// username and password are the harness's own SASL account
		if !s.SASL && (s.Username != "" || s.Password != "") {
			return fmt.Errorf("memcached: username and password require sasl")
		}
		if s.SASL && s.Mode == ModeExternal && (s.Username == "" || s.Password == "") {
			return fmt.Errorf("memcached: external sasl server requires username and password")
		}
	}
	return nil
}

// Start provisions the backend described by spec and verifies it is reachable.
// Failures carry ErrConfig or ErrUnreachable.
func Start(ctx context.Context, spec Spec) (Controller, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, newError("start", string(spec.Type), ErrConfig, err)
	}

	if spec.Type == TypeMemory {
		return NewMemory(spec), nil
	}

	if spec.Type == TypeMemcached && spec.SASL && spec.Mode == ModeContainer && spec.Password == "" {
		spec.Password = uuid.NewString()
	}

	address := spec.Address
	var ctr *container
	if spec.Mode == ModeContainer {
		c, err := startContainer(ctx, spec)
		if err != nil {
			return nil, newError("start", string(spec.Type), ErrUnreachable, err)
		}
		ctr = c
		address = c.address
	}

	var (
		ctl Controller
		err error
	)
	switch spec.Type {
	case TypeRedis:
		ctl, err = newRedis(ctx, spec, address, ctr)
	default:
		ctl, err = newMemcached(ctx, spec, address, ctr)
	}
	if err != nil {
		if ctr != nil {
			_ = ctr.terminate(context.WithoutCancel(ctx), spec.ShutdownGrace)
		}
		return nil, err
	}
	return ctl, nil
}
