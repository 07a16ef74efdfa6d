// Package launcher brings up the application under test against a session backend.
// Each launch gets a fresh loopback port and a private configuration directory holding
// sessions.ini; the launcher waits for the readiness endpoint before handing out an AppHandle.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/internal/httpc"
	"github.com/loykin/sessprobe/internal/retry"
	"github.com/loykin/sessprobe/pkg/env"
	"github.com/natefinch/atomic"
	"github.com/tidwall/gjson"
)

// AppSpec describes how to run and probe the application
type AppSpec struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Dir     string            `mapstructure:"dir" yaml:"dir"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`

	ReadinessPath      string        `mapstructure:"readiness_path" yaml:"readiness_path"`
	ReadinessStatus    int           `mapstructure:"readiness_status" yaml:"readiness_status"`
	ReadinessJSONPath  string        `mapstructure:"readiness_json_path" yaml:"readiness_json_path"`
	ReadinessJSONValue string        `mapstructure:"readiness_json_value" yaml:"readiness_json_value"`
	Attempts           int           `mapstructure:"attempts" yaml:"attempts"`
	InitialDelay       time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	StopGrace          time.Duration `mapstructure:"stop_grace" yaml:"stop_grace"`

	// ConfigRoot is the parent of per-launch config directories; empty uses the OS temp dir
	ConfigRoot string `mapstructure:"config_root" yaml:"config_root"`
}

// WithDefaults fills unset readiness and shutdown settings
func (s AppSpec) WithDefaults() AppSpec {
	if s.ReadinessPath == "" {
		s.ReadinessPath = constants.DefaultReadinessPath
	}
	if !strings.HasPrefix(s.ReadinessPath, "/") {
		s.ReadinessPath = "/" + s.ReadinessPath
	}
	if s.ReadinessStatus == 0 {
		s.ReadinessStatus = constants.DefaultReadinessStatus
	}
	if s.Attempts <= 0 {
		s.Attempts = constants.DefaultReadinessAttempts
	}
	if s.InitialDelay <= 0 {
		s.InitialDelay = constants.DefaultReadinessDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = constants.DefaultReadinessMaxDelay
	}
	if s.StopGrace <= 0 {
		s.StopGrace = constants.DefaultStopGrace
	}
	return s
}

// Option customizes a Launcher
type Option func(*Launcher)

// WithEnv supplies suite-level template variables
func WithEnv(e *env.Env) Option {
	return func(l *Launcher) {
		if e != nil {
			l.vars = e
		}
	}
}

// WithPortAllocator replaces the free-port lookup
func WithPortAllocator(f func() (int, error)) Option {
	return func(l *Launcher) {
		if f != nil {
			l.ports = f
		}
	}
}

// WithLogger sets the launcher logger
func WithLogger(logger *common.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Launcher starts application instances from one AppSpec
type Launcher struct {
	spec    AppSpec
	starter Starter
	vars    *env.Env
	ports   func() (int, error)
	logger  *common.Logger
}

// New returns a Launcher; a nil starter runs spec.Command as a child process
func New(spec AppSpec, starter Starter, opts ...Option) *Launcher {
	if starter == nil {
		starter = ProcessStarter{}
	}
	l := &Launcher{
		spec:    spec.WithDefaults(),
		starter: starter,
		vars:    env.New(),
		ports:   freePort,
		logger:  common.GetLogger().WithComponent("launcher"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Spec returns the effective AppSpec
func (l *Launcher) Spec() AppSpec { return l.spec }

// Launch starts the application with cfg and waits until it is ready. A port that turns out
// to be taken is retried once with a fresh port; readiness exhaustion is ErrTimeout.
func (l *Launcher) Launch(ctx context.Context, cfg BackendConfig) (*AppHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &LaunchError{Kind: ErrStart, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		port, err := l.ports()
		if err != nil {
			return nil, &LaunchError{Kind: ErrNoPort, Err: err}
		}
		h, err := l.launchOnce(ctx, cfg, port)
		if err == nil {
			return h, nil
		}
		lastErr = err
		if !errors.Is(err, ErrPortInUse) || ctx.Err() != nil {
			return nil, err
		}
		l.logger.Warn("port already in use, retrying with a fresh port", "port", port, "attempt", attempt+1)
	}
	return nil, lastErr
}

func (l *Launcher) launchOnce(ctx context.Context, cfg BackendConfig, port int) (*AppHandle, error) {
	dir, err := os.MkdirTemp(l.spec.ConfigRoot, "sessprobe-")
	if err != nil {
		return nil, &LaunchError{Kind: ErrStart, Port: port, Err: fmt.Errorf("create config dir: %w", err)}
	}
	fail := func(kind error, err error) (*AppHandle, error) {
		_ = os.RemoveAll(dir)
		return nil, &LaunchError{Kind: kind, Port: port, Err: err}
	}

	iniPath := filepath.Join(dir, constants.ConfigFileName)
	if err := atomic.WriteFile(iniPath, strings.NewReader(RenderINI(cfg))); err != nil {
		return fail(ErrStart, fmt.Errorf("write %s: %w", iniPath, err))
	}

	vars := l.vars.With(cfg.Env(dir, port).Local)
	req := StartRequest{Dir: l.spec.Dir, Port: port, ConfigDir: dir, Config: cfg}
	if req.Command, err = vars.RenderGoTemplateErr(l.spec.Command); err != nil {
		return fail(ErrStart, fmt.Errorf("render command: %w", err))
	}
	for _, a := range l.spec.Args {
		r, err := vars.RenderGoTemplateErr(a)
		if err != nil {
			return fail(ErrStart, fmt.Errorf("render arg %q: %w", a, err))
		}
		req.Args = append(req.Args, r)
	}
	req.Env = EnvVars(cfg, dir, port)
	keys := make([]string, 0, len(l.spec.Env))
	for k := range l.spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := vars.RenderGoTemplateErr(l.spec.Env[k])
		if err != nil {
			return fail(ErrStart, fmt.Errorf("render env %s: %w", k, err))
		}
		req.Env = append(req.Env, k+"="+v)
	}

	proc, err := l.starter.Start(ctx, req)
	if err != nil {
		if isAddrInUse(err) {
			return fail(ErrPortInUse, err)
		}
		return fail(ErrStart, err)
	}

	h := &AppHandle{
		baseURL:   vars.Local["base_url"],
		port:      port,
		configDir: dir,
		proc:      proc,
		grace:     l.spec.StopGrace,
		logger:    l.logger,
	}
	if err := l.waitReady(ctx, h); err != nil {
		_ = h.Terminate(context.WithoutCancel(ctx))
		return nil, err
	}
	l.logger.Info("application ready", "base_url", h.baseURL, "handler", cfg.HandlerName)
	return h, nil
}

func (l *Launcher) waitReady(ctx context.Context, h *AppHandle) error {
	client := (&httpc.Httpc{BaseURL: h.baseURL, Timeout: l.spec.MaxDelay + time.Second, NoRedirect: true}).New()
	cfg := retry.ReadinessConfig(l.spec.Attempts, l.spec.InitialDelay, l.spec.MaxDelay)

	err := retry.WithRetry(ctx, cfg, func() error {
		select {
		case <-h.proc.Done():
			out := h.proc.Output()
			if looksLikeAddrInUse(out) || isAddrInUse(h.proc.ExitErr()) {
				return retry.Permanent(&LaunchError{Kind: ErrPortInUse, Port: h.port, Err: errors.New(lastLine(out))})
			}
			return retry.Permanent(&LaunchError{Kind: ErrStart, Port: h.port,
				Err: fmt.Errorf("application exited before becoming ready: %v %s", h.proc.ExitErr(), lastLine(out))})
		default:
		}

		resp, err := client.R().SetContext(ctx).Get(l.spec.ReadinessPath)
		if err != nil {
			return err
		}
		if resp.StatusCode() != l.spec.ReadinessStatus {
			return fmt.Errorf("readiness %s: status %d, want %d", l.spec.ReadinessPath, resp.StatusCode(), l.spec.ReadinessStatus)
		}
		if l.spec.ReadinessJSONPath != "" {
			got := gjson.GetBytes(resp.Body(), l.spec.ReadinessJSONPath)
			if !got.Exists() || got.String() != l.spec.ReadinessJSONValue {
				return fmt.Errorf("readiness %s: %s=%q, want %q", l.spec.ReadinessPath, l.spec.ReadinessJSONPath, got.String(), l.spec.ReadinessJSONValue)
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var le *LaunchError
	if errors.As(err, &le) {
		return le
	}
	return &LaunchError{Kind: ErrTimeout, Port: h.port, Err: err}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
