package fixtureapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/internal/mcbin"
	"github.com/loykin/sessprobe/pkg/backend"
	"github.com/redis/go-redis/v9"
)

// Key prefixes match the PHP extensions' key names. Values are JSON, not PHP session
// serialization.
const (
	memcachedKeyPrefix = "memc.sess.key."
	redisKeyPrefix     = "PHPREDIS_SESSION:"
)

// SessionStore persists session values by session id
type SessionStore interface {
	Load(ctx context.Context, id string) (map[string]string, error)
	Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error
	Close() error
}

// KV is the subset of backend.Memory used as an in-process session store
type KV interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
}

// NewSessionStore opens the store named by cfg.SaveHandler. kv backs the memory handler;
// nil gets a private in-process map.
func NewSessionStore(cfg Config, kv KV) (SessionStore, error) {
	switch cfg.SaveHandler {
	case "memcached":
		servers, err := memcachedServers(cfg.SavePath)
		if err != nil {
			return nil, err
		}
		if cfg.SASLUser != "" {
			return &saslMemcachedStore{addr: servers[0], user: cfg.SASLUser, pass: cfg.SASLPass}, nil
		}
		c := memcache.New(servers...)
		c.Timeout = 2 * time.Second
		return &memcachedStore{client: c}, nil
	case "redis":
		opts, err := redisOptions(cfg.SavePath)
		if err != nil {
			return nil, err
		}
		return &redisStore{client: redis.NewClient(opts)}, nil
	case "memory", "files", "":
		if kv == nil {
			kv = backend.NewMemory(backend.Spec{Type: backend.TypeMemory})
		}
		return &kvStore{kv: kv}, nil
	default:
		return nil, fmt.Errorf("unsupported session handler %q", cfg.SaveHandler)
	}
}

// memcachedServers parses "PERSISTENT=id host:port,host2" into host:port entries
func memcachedServers(savePath string) ([]string, error) {
	var hosts []string
	for _, field := range strings.Fields(savePath) {
		if strings.Contains(field, "=") {
			continue
		}
		for _, h := range strings.Split(field, ",") {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			if _, _, err := net.SplitHostPort(h); err != nil {
				h = net.JoinHostPort(h, strconv.Itoa(constants.DefaultMemcachedPort))
			}
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("memcached save path %q names no servers", savePath)
	}
	return hosts, nil
}

// redisOptions parses tcp://host:port?auth=secret&database=n
func redisOptions(savePath string) (*redis.Options, error) {
	first := strings.TrimSpace(strings.Split(savePath, ",")[0])
	if first == "" {
		return nil, errors.New("redis save path is empty")
	}
	if !strings.Contains(first, "://") {
		first = "tcp://" + first
	}
	u, err := url.Parse(first)
	if err != nil {
		return nil, fmt.Errorf("invalid redis save path: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), strconv.Itoa(constants.DefaultRedisPort))
	}
	q := u.Query()
	opts := &redis.Options{Addr: host, Password: q.Get("auth")}
	if user := q.Get("user"); user != "" {
		opts.Username = user
	}
	if db := q.Get("database"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid redis database %q", db)
		}
		opts.DB = n
	}
	return opts, nil
}

type memcachedStore struct {
	client *memcache.Client
}

func (s *memcachedStore) Load(_ context.Context, id string) (map[string]string, error) {
	it, err := s.client.Get(memcachedKeyPrefix + id)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeValues(it.Value)
}

func (s *memcachedStore) Save(_ context.Context, id string, values map[string]string, ttl time.Duration) error {
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{Key: memcachedKeyPrefix + id, Value: b, Expiration: int32(ttl.Seconds())})
}

func (s *memcachedStore) Close() error { return nil }

// saslMemcachedStore talks the binary protocol to the first server, which is what a SASL
// enabled memcached requires
type saslMemcachedStore struct {
	addr, user, pass string

	mu     sync.Mutex
	client *mcbin.Client
}

func (s *saslMemcachedStore) conn(ctx context.Context) (*mcbin.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	c, err := mcbin.Dial(ctx, s.addr, s.user, s.pass, 2*time.Second)
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

// drop discards a connection after an I/O error so the next call redials
func (s *saslMemcachedStore) drop(c *mcbin.Client, err error) {
	var se *mcbin.StatusError
	if err == nil || errors.Is(err, mcbin.ErrCacheMiss) || errors.As(err, &se) {
		return
	}
	s.mu.Lock()
	if s.client == c {
		s.client = nil
		_ = c.Close()
	}
	s.mu.Unlock()
}

func (s *saslMemcachedStore) Load(ctx context.Context, id string) (map[string]string, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	b, err := c.Get(memcachedKeyPrefix + id)
	if errors.Is(err, mcbin.ErrCacheMiss) {
		return map[string]string{}, nil
	}
	if err != nil {
		s.drop(c, err)
		return nil, err
	}
	return decodeValues(b)
}

func (s *saslMemcachedStore) Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error {
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = c.Set(memcachedKeyPrefix+id, b, ttl)
	s.drop(c, err)
	return err
}

func (s *saslMemcachedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

type redisStore struct {
	client *redis.Client
}

func (s *redisStore) Load(ctx context.Context, id string) (map[string]string, error) {
	b, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeValues(b)
}

func (s *redisStore) Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error {
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+id, b, ttl).Err()
}

func (s *redisStore) Close() error { return s.client.Close() }

type kvStore struct {
	kv KV
}

func (s *kvStore) Load(_ context.Context, id string) (map[string]string, error) {
	b, ok := s.kv.Get(id)
	if !ok {
		return map[string]string{}, nil
	}
	return decodeValues(b)
}

func (s *kvStore) Save(_ context.Context, id string, values map[string]string, ttl time.Duration) error {
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	s.kv.Set(id, b, ttl)
	return nil
}

func (s *kvStore) Close() error { return nil }

func decodeValues(b []byte) (map[string]string, error) {
	m := map[string]string{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return m, nil
}
