// Package sessprobe runs session storage verification suites: each scenario provisions a
// session backend, launches the application under test configured for it, drives HTTP
// requests through one cookie jar and checks the fixture page the application renders.
package sessprobe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/internal/store"
	"github.com/loykin/sessprobe/pkg/backend"
	"github.com/loykin/sessprobe/pkg/config"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/loykin/sessprobe/pkg/fixtureapp"
	"github.com/loykin/sessprobe/pkg/launcher"
	"github.com/loykin/sessprobe/pkg/orchestrator"
)

// Re-export commonly used types for public API

// Suite is a parsed suite file
type Suite = config.Document

// Results aggregates the outcomes of one suite run
type Results = orchestrator.Results

// Outcome is the result of one scenario
type Outcome = orchestrator.Outcome

// RegexFilters selects scenarios by name
type RegexFilters = orchestrator.RegexFilters

// NewRegexList compiles scenario name patterns
func NewRegexList(patterns ...string) (orchestrator.RegexList, error) {
	return orchestrator.NewRegexList(patterns...)
}

// Store is the suite result history
type Store = store.Store

// StoreConfig selects and configures the result store
type StoreConfig = store.Config

// LoadSuite reads and parses a suite file
func LoadSuite(path string) (*Suite, error) { return config.Load(path) }

// OpenStore opens (and initializes) the configured result store
func OpenStore(cfg StoreConfig) (*Store, error) { return store.Open(cfg) }

// Runner runs one suite against one of its backends
type Runner struct {
	Suite *Suite
	// Backend names the suite backend to test; may be empty when the suite defines one
	Backend     string
	Filters     RegexFilters
	Parallelism int
	Timeout     time.Duration
	// Record writes the results to the suite's store unless it is disabled
	Record bool
	// StartBackend overrides backend provisioning; nil uses backend.Start
	StartBackend backend.StartFunc
}

// Run executes the suite. Failures that prevent the suite from running are reported
// in Results.Err, so ExitCode() is always meaningful.
func (r *Runner) Run(ctx context.Context) Results {
	logger := common.GetLogger().WithComponent("runner")
	res, scenarios, err := r.prepare()
	if err != nil {
		logger.Error("suite could not run", "error", err)
		return res
	}

	pool := backend.NewPool(r.StartBackend)
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DefaultTeardownTimeout)
		defer cancel()
		if err := pool.Close(cctx); err != nil {
			logger.Warn("failed to stop shared backends", "error", err)
		}
	}()

	o, err := orchestrator.New(orchestrator.Dependencies{
		StartBackend: pool.Acquire,
		NewLauncher:  LauncherFactory(r.Suite),
	}, orchestrator.WithLogger(common.GetLogger()))
	if err != nil {
		res.Err = err
		return res
	}

	parallelism := r.Parallelism
	if parallelism <= 0 {
		parallelism = r.Suite.Parallelism
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = r.Suite.Timeout
	}
	res = o.RunSuite(ctx, scenarios, orchestrator.SuiteOptions{
		Backend:     r.Backend,
		Parallelism: parallelism,
		Filters:     r.Filters,
		Timeout:     timeout,
	})

	if r.Record {
		if err := RecordResults(ctx, r.Suite.Store, res); err != nil {
			logger.Warn("failed to record suite results", "run_id", res.RunID, "error", err)
		}
	}
	return res
}

func (r *Runner) prepare() (Results, []orchestrator.Scenario, error) {
	res := Results{Backend: r.Backend}
	fail := func(err error) (Results, []orchestrator.Scenario, error) {
		res.Err = err
		return res, nil, err
	}
	if r.Suite == nil {
		return fail(errors.New("no suite loaded"))
	}
	if err := r.Suite.Validate(); err != nil {
		return fail(err)
	}
	if r.Backend == "" {
		names := r.Suite.BackendNames()
		if len(names) != 1 {
			return fail(fmt.Errorf("a backend must be selected when the suite defines %d backends", len(names)))
		}
		r.Backend = names[0]
		res.Backend = r.Backend
	}
	scenarios, err := r.Suite.Scenarios(r.Backend)
	if err != nil {
		return fail(err)
	}
	return res, scenarios, nil
}

// LauncherFactory builds one launcher per scenario. The builtin application keeps its
// sessions in the in-process memory backend when the scenario runs against one.
func LauncherFactory(suite *Suite) func(backend.Controller) orchestrator.Launcher {
	mode, _ := fixture.ParseBoolMode(suite.BoolMode)
	return func(ctl backend.Controller) orchestrator.Launcher {
		var starter launcher.Starter = launcher.ProcessStarter{}
		if suite.AppMode() == config.AppModeBuiltin {
			var kv fixtureapp.KV
			if mem, ok := backend.Underlying(ctl).(*backend.Memory); ok {
				kv = mem
			}
			starter = launcher.HandlerStarter{Build: fixtureapp.HandlerFactory(kv, mode)}
		}
		return orchestrator.FromLauncher(launcher.New(suite.App.AppSpec, starter, launcher.WithLogger(common.GetLogger())))
	}
}

// RecordResults appends res to the configured store; a disabled store records nothing
func RecordResults(ctx context.Context, cfg StoreConfig, res Results) error {
	st, err := store.Open(cfg)
	if errors.Is(err, store.ErrDisabled) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return st.RecordSuite(context.WithoutCancel(ctx), store.FromResults(res))
}
