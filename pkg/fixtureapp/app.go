// Package fixtureapp is a reference application under test. It serves the fixture page
// describing its session configuration and keeps real sessions in the configured backend,
// so the harness can be exercised end to end without a PHP runtime.
package fixtureapp

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/loykin/sessprobe/pkg/launcher"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// App is the gin engine plus its session store
type App struct {
	cfg    Config
	store  SessionStore
	engine *gin.Engine
	logger *common.Logger
}

// New builds the application; kv backs the memory handler and may be nil
func New(cfg Config, kv KV) (*App, error) {
	cfg = cfg.withDefaults()
	store, err := NewSessionStore(cfg, kv)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, store), nil
}

// NewWithStore builds the application around an already opened session store
func NewWithStore(cfg Config, store SessionStore) *App {
	cfg = cfg.withDefaults()
	engine := gin.New()
	a := &App{
		cfg:    cfg,
		store:  store,
		engine: engine,
		logger: common.GetLogger().WithComponent("fixtureapp"),
	}
	engine.Use(gin.Recovery(), a.logRequests())

	engine.GET("/", a.fixturePage)
	engine.GET("/index.php", a.fixturePage)
	engine.GET("/session", a.sessionJSON)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "handler": cfg.SaveHandler})
	})
	return a
}

// Handler returns the http.Handler serving the application
func (a *App) Handler() http.Handler { return a.engine }

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.engine.ServeHTTP(w, r) }

// Close releases the session store
func (a *App) Close() error { return a.store.Close() }

// HandlerFactory adapts the application to launcher.HandlerStarter. Every launch builds a
// fresh App from the launch configuration; the starter closes it, and with it the session
// store, when the launch terminates. A non-nil kv holds the sessions for every handler, so
// the in-process memory backend can stand in for memcached or redis.
func HandlerFactory(kv KV, mode fixture.BoolMode) func(launcher.StartRequest) (http.Handler, error) {
	return func(req launcher.StartRequest) (http.Handler, error) {
		cfg := FromBackendConfig(req.Config)
		cfg.BoolMode = mode
		if kv != nil {
			return NewWithStore(cfg, &kvStore{kv: kv}), nil
		}
		a, err := New(cfg, kv)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

func (a *App) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// session resolves the session id from the cookie, issuing a new one when absent
func (a *App) session(c *gin.Context) (string, map[string]string, bool) {
	id, err := c.Cookie(a.cfg.SessionName)
	if err != nil || strings.TrimSpace(id) == "" {
		id = uuid.NewString()
		c.SetCookie(a.cfg.SessionName, id, 0, "/", "", false, true)
	}
	values, err := a.store.Load(c.Request.Context(), id)
	if err != nil {
		a.logger.Error("load session failed", "error", err, "session_id", id)
		c.String(http.StatusInternalServerError, "session load failed: %v", err)
		return "", nil, false
	}
	return id, values, true
}

func (a *App) fixturePage(c *gin.Context) {
	id, values, ok := a.session(c)
	if !ok {
		return
	}

	changed := false
	for _, kv := range c.QueryArray("set") {
		k, v, found := strings.Cut(kv, "=")
		if !found || k == "" {
			c.String(http.StatusBadRequest, "set expects key=value, got %q", kv)
			return
		}
		values[k] = v
		changed = true
	}
	if changed {
		if err := a.store.Save(c.Request.Context(), id, values, a.cfg.SessionTTL); err != nil {
			a.logger.Error("save session failed", "error", err, "session_id", id)
			c.String(http.StatusInternalServerError, "session save failed: %v", err)
			return
		}
	}

	c.Header("X-Session-Id", id)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fixture.Render(a.cfg.Pairs())))
}

func (a *App) sessionJSON(c *gin.Context) {
	id, values, ok := a.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "values": values})
}
