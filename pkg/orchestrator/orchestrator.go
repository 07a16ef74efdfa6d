// Package orchestrator drives session-backend scenarios through their lifecycle:
// provision and reset the backend, launch the application against it, issue the request
// sequence, assert on the fixture page and always tear everything down.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/internal/httpc"
	"github.com/loykin/sessprobe/pkg/backend"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/loykin/sessprobe/pkg/launcher"
)

// App is a running application instance
type App interface {
	BaseURL() string
	Terminate(ctx context.Context) error
}

// Launcher brings up the application for one backend configuration
type Launcher interface {
	Launch(ctx context.Context, cfg launcher.BackendConfig) (App, error)
}

// LauncherFunc adapts a function to Launcher
type LauncherFunc func(ctx context.Context, cfg launcher.BackendConfig) (App, error)

func (f LauncherFunc) Launch(ctx context.Context, cfg launcher.BackendConfig) (App, error) {
	return f(ctx, cfg)
}

// FromLauncher adapts a launcher.Launcher
func FromLauncher(l *launcher.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context, cfg launcher.BackendConfig) (App, error) {
		h, err := l.Launch(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

// Dependencies are the collaborators a scenario run needs
type Dependencies struct {
	// StartBackend provisions the named backend; nil uses backend.Start
	StartBackend func(ctx context.Context, name string, spec backend.Spec) (backend.Controller, error)
	// NewLauncher returns the launcher for a scenario running against ctl
	NewLauncher func(ctl backend.Controller) Launcher
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger
func WithLogger(logger *common.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger.WithComponent("orchestrator")
		}
	}
}

// WithTeardownTimeout bounds the cleanup of one scenario
func WithTeardownTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.teardownTimeout = d
		}
	}
}

// Orchestrator runs scenarios
type Orchestrator struct {
	deps            Dependencies
	teardownTimeout time.Duration
	logger          *common.Logger
}

// New creates an orchestrator; deps.NewLauncher is required
func New(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	if deps.NewLauncher == nil {
		return nil, errors.New("orchestrator: a launcher factory is required")
	}
	if deps.StartBackend == nil {
		deps.StartBackend = func(ctx context.Context, _ string, spec backend.Spec) (backend.Controller, error) {
			return backend.Start(ctx, spec)
		}
	}
	o := &Orchestrator{
		deps:            deps,
		teardownTimeout: constants.DefaultTeardownTimeout,
		logger:          common.GetLogger().WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// scenarioRun holds the resources acquired by one Run
type scenarioRun struct {
	o      *Orchestrator
	sc     Scenario
	out    *Outcome
	parent context.Context
	logger *common.Logger

	ctl backend.Controller
	app App
}

// Run executes one scenario. Every resource acquired on the way is released exactly once
// before Run returns, whatever state the scenario failed in.
func (o *Orchestrator) Run(ctx context.Context, sc Scenario) Outcome {
	out := Outcome{
		Scenario: sc.Name,
		RunID:    newRunID(),
		Category: CategoryPassed,
		Start:    time.Now(),
	}
	out.enter(StateInit)
	r := &scenarioRun{
		o:      o,
		sc:     sc,
		out:    &out,
		parent: ctx,
		logger: o.logger.WithScenario(sc.Name, out.RunID),
	}
	r.logger.Info("scenario started", "backend", sc.BackendName, "handler", sc.backendConfig().HandlerName)

	func() {
		defer r.teardown()
		defer func() {
			if p := recover(); p != nil {
				r.fail(CategoryInternal, fmt.Errorf("scenario panicked: %v", p))
			}
		}()
		if err := sc.Validate(); err != nil {
			r.fail(CategoryInternal, err)
			return
		}
		runCtx := ctx
		if sc.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, sc.Timeout)
			defer cancel()
		}
		r.execute(runCtx)
	}()

	out.End = time.Now()
	out.Duration = out.End.Sub(out.Start)
	if out.Failed {
		r.logger.Error("scenario failed",
			"category", string(out.Category),
			"state", out.Reached.String(),
			"error", out.Err,
			"duration", out.Duration)
	} else {
		r.logger.Info("scenario passed", "duration", out.Duration, "session_id", out.Trace.SessionID)
	}
	return out
}

func (r *scenarioRun) execute(ctx context.Context) {
	ctl, err := r.o.deps.StartBackend(ctx, r.sc.BackendName, r.sc.Backend)
	if err != nil {
		r.fail(CategoryInternal, fmt.Errorf("start backend: %w", err))
		return
	}
	r.ctl = ctl

	if err := ctl.Reset(ctx); err != nil {
		r.fail(CategoryBackend, err)
		return
	}
	cfg := r.sc.backendConfig()
	if cfg.HasSASL() {
		if err := ctl.ConfigureSASL(ctx, cfg.User(), cfg.Pass()); err != nil {
			r.fail(CategoryBackend, err)
			return
		}
	}
	if cfg.SavePath == "" {
		cfg.SavePath = launcher.SavePathFor(cfg.HandlerName, ctl.Address(), r.sc.Backend.Password)
	}
	r.out.enter(StateBackendReady)
	r.logger.Info("backend ready", "backend", ctl.Name(), "address", ctl.Address())

	app, err := r.o.deps.NewLauncher(ctl).Launch(ctx, cfg)
	if err != nil {
		if errors.Is(err, launcher.ErrNoPort) {
			r.fail(CategoryInternal, err)
		} else {
			r.fail(CategoryLaunch, err)
		}
		return
	}
	r.app = app
	r.out.enter(StateAppLaunched)
	r.logger.Info("application launched", "base_url", app.BaseURL())

	final, err := r.issue(ctx, app, cfg)
	if err != nil {
		r.fail(requestCategory(err), err)
		return
	}
	r.out.enter(StateRequestsIssued)

	if err := r.assert(final); err != nil {
		r.fail(CategoryAssertion, err)
		return
	}
	r.out.enter(StateAsserted)
}

// issue sends the request sequence on one cookie jar and returns the parsed last response
func (r *scenarioRun) issue(ctx context.Context, app App, cfg launcher.BackendConfig) (fixture.Response, error) {
	timeout := r.sc.RequestTimeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	client, jar, err := httpc.NewSessionClient(app.BaseURL(), timeout)
	if err != nil {
		return fixture.Response{}, err
	}
	base, err := url.Parse(app.BaseURL())
	if err != nil {
		return fixture.Response{}, fmt.Errorf("invalid application url %q: %w", app.BaseURL(), err)
	}
	cookieName := cfg.SessionName
	if cookieName == "" {
		cookieName = constants.DefaultSessionName
	}

	var (
		final       fixture.Response
		sessionName string
		trace       = &r.out.Trace
		last        = len(r.sc.Requests) - 1
	)
	for i, req := range r.sc.Requests {
		path := req.path()
		r.logger.Debug("issuing request", "path", path, "progress", fmt.Sprintf("%d/%d", i+1, len(r.sc.Requests)))

		rq := client.R().SetContext(ctx)
		for k, v := range req.Query {
			rq.SetQueryParam(k, v)
		}
		for _, k := range sortedKeys(req.Set) {
			rq.QueryParam.Add("set", k+"="+req.Set[k])
		}
		resp, err := rq.Get(path)
		if err != nil {
			return fixture.Response{}, &RequestError{Index: i, Path: path, Err: err}
		}
		if resp.StatusCode() != req.status() {
			return fixture.Response{}, &RequestError{Index: i, Path: path, Status: resp.StatusCode(), Want: req.status()}
		}

		if len(req.Set) > 0 {
			if trace.Values == nil {
				trace.Values = map[string]string{}
			}
			for k, v := range req.Set {
				trace.Values[k] = v
			}
		}

		id := sessionCookie(jar, base, cookieName)
		switch {
		case trace.SessionID == "" && id != "":
			trace.SessionID = id
			trace.SetAt = time.Now()
			r.logger.Debug("session established", "session_id", id, "request", i+1)
		case r.sc.RequireContinuity && id != trace.SessionID:
			return fixture.Response{}, &ContinuityError{Index: i, What: "session id", Expected: trace.SessionID, Actual: id}
		}

		if !r.sc.RequireContinuity && i != last {
			continue
		}
		parsed, err := fixture.ParseExpected(resp.String(), r.sc.labels())
		if err != nil {
			return fixture.Response{}, fmt.Errorf("request %d GET %s: %w", i+1, path, err)
		}
		if r.sc.RequireContinuity {
			name, _ := parsed.Get(fixture.LabelSessionName)
			if i == 0 {
				sessionName = name
			} else if name != sessionName {
				return fixture.Response{}, &ContinuityError{Index: i, What: fixture.LabelSessionName, Expected: sessionName, Actual: name}
			}
		}
		final = parsed
	}
	if r.sc.RequireContinuity && trace.SessionID == "" {
		return fixture.Response{}, &ContinuityError{Index: last, What: "session id", Expected: "a " + cookieName + " cookie", Actual: ""}
	}
	return final, nil
}

// assert applies every assertion and reports all mismatches together
func (r *scenarioRun) assert(resp fixture.Response) error {
	a := fixture.Asserter{Mode: r.sc.BoolMode}
	var errs []error
	for _, as := range r.sc.Assertions {
		kind, err := fixture.ParseKind(string(as.Kind))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.Check(resp, kind, as.Label, as.Expected); err != nil {
			r.logger.Warn("assertion mismatch", "label", as.Label, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// teardown releases the application and then the backend. It runs on a context detached
// from cancellation so an aborted suite still cleans up.
func (r *scenarioRun) teardown() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.parent), r.o.teardownTimeout)
	defer cancel()

	var (
		errs     []error
		category Category
	)
	if r.app != nil {
		if err := r.app.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate application: %w", err))
			category = CategoryLaunch
		}
	}
	if r.ctl != nil {
		if err := r.ctl.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown backend: %w", err))
			if category == "" {
				category = CategoryBackend
			}
		}
	}
	r.out.enter(StateTornDown)

	err := errors.Join(errs...)
	if err == nil {
		r.logger.Debug("scenario torn down")
		return
	}
	r.logger.Warn("teardown failed", "error", err)
	if r.out.Failed {
		r.out.Err = errors.Join(r.out.Err, err)
		return
	}
	r.out.fail(category, err)
}

// fail records the first failure; failures caused by the caller's cancellation are
// reported as cancelled whatever step they hit
func (r *scenarioRun) fail(c Category, err error) {
	if r.out.Failed {
		r.out.Err = errors.Join(r.out.Err, err)
		return
	}
	if r.parent.Err() != nil {
		c = CategoryCancelled
		err = fmt.Errorf("%w: %w", context.Cause(r.parent), err)
	}
	r.out.fail(c, err)
}

func requestCategory(err error) Category {
	var (
		pe *fixture.ParseError
		ce *ContinuityError
		re *RequestError
	)
	switch {
	case errors.As(err, &pe):
		return CategoryParse
	case errors.As(err, &ce):
		return CategoryAssertion
	case errors.As(err, &re) && re.Err == nil:
		return CategoryAssertion
	case errors.As(err, &re):
		return CategoryLaunch
	default:
		return CategoryInternal
	}
}

func sessionCookie(jar http.CookieJar, u *url.URL, name string) string {
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
