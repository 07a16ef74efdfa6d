package backend

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/sessprobe/internal/common"
	"github.com/redis/go-redis/v9"
)

// Redis controls a redis server through go-redis
type Redis struct {
	spec    Spec
	address string
	client  *redis.Client
	ctr     *container
	logger  *common.Logger

	resetMu sync.Mutex
	mu      sync.Mutex
	once    sync.Once
	stopErr error

	user, pass string
	sasl       bool
}

func newRedis(ctx context.Context, spec Spec, address string, ctr *container) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     spec.Password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	r := &Redis{
		spec:    spec,
		address: address,
		client:  client,
		ctr:     ctr,
		logger:  common.GetLogger().WithComponent("backend").WithBackend(string(TypeRedis)),
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, newError("start", r.Name(), ErrUnreachable, err)
	}
	return r, nil
}

func (r *Redis) Name() string    { return string(TypeRedis) }
func (r *Redis) Address() string { return r.address }

// Password is the requirepass secret, empty when the server is open
func (r *Redis) Password() string { return r.spec.Password }

func (r *Redis) Capabilities() Capabilities {
	return Capabilities{SASL: r.spec.SASL}
}

// Reset issues FLUSHALL
func (r *Redis) Reset(ctx context.Context) error {
	r.resetMu.Lock()
	defer r.resetMu.Unlock()
	if err := r.client.FlushAll(ctx).Err(); err != nil {
		return newError("reset", r.Name(), ErrReset, err)
	}
	r.logger.Debug("flushed", "address", r.address)
	return nil
}

// ConfigureSASL creates an ACL user with full access
func (r *Redis) ConfigureSASL(ctx context.Context, user, pass string) error {
	if !r.spec.SASL {
		return newError("configure-sasl", r.Name(), ErrUnsupported, nil)
	}
	err := r.client.Do(ctx, "ACL", "SETUSER", user, "on", ">"+pass, "~*", "+@all").Err()
	if err != nil {
		return newError("configure-sasl", r.Name(), ErrConfig, err)
	}
	r.mu.Lock()
	r.user, r.pass, r.sasl = user, pass, true
	r.mu.Unlock()
	r.logger.Debug("acl user configured", "sasl_user", user)
	return nil
}

func (r *Redis) Credentials() (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user, r.pass, r.sasl
}

func (r *Redis) Keys(ctx context.Context) (int, error) {
	n, err := r.client.DBSize(ctx).Result()
	return int(n), err
}

func (r *Redis) Shutdown(ctx context.Context) error {
	r.once.Do(func() {
		var errs []error
		if err := r.client.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := r.ctr.terminate(ctx, r.spec.ShutdownGrace); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			r.stopErr = newError("shutdown", r.Name(), ErrShutdown, errs[0])
		}
	})
	return r.stopErr
}
