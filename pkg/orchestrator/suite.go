package orchestrator

import (
	"context"
	"time"

	"github.com/loykin/sessprobe/internal/constants"
	"golang.org/x/sync/errgroup"
)

// SuiteOptions controls a suite run
type SuiteOptions struct {
	// Backend names the backend the suite targets, for reporting
	Backend     string
	Parallelism int
	Filters     RegexFilters
	// Timeout bounds the whole suite; zero means no limit
	Timeout time.Duration
}

// Results aggregates the outcomes of one suite run
type Results struct {
	RunID    string
	Backend  string
	Outcomes []Outcome
	Skipped  []string
	// Err is a harness failure that prevented scenarios from running
	Err   error
	Start time.Time
	End   time.Time
}

// Passed counts the passing outcomes
func (r Results) Passed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Failed {
			n++
		}
	}
	return n
}

// Failed returns the failing outcomes in run order
func (r Results) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Failed {
			out = append(out, o)
		}
	}
	return out
}

// ExitCode maps results to the process exit status: 0 when everything passed, 1 when a
// scenario failed on its own terms, 2 when the harness itself could not do its job
func (r Results) ExitCode() int {
	if r.Err != nil {
		return 2
	}
	code := 0
	for _, o := range r.Outcomes {
		if !o.Failed {
			continue
		}
		if o.Category.Internal() {
			return 2
		}
		code = 1
	}
	return code
}

// RunSuite runs the selected scenarios with at most opts.Parallelism in flight. Outcomes
// keep the order of scenarios; one scenario failing never stops the others.
func (o *Orchestrator) RunSuite(ctx context.Context, scenarios []Scenario, opts SuiteOptions) Results {
	res := Results{RunID: newRunID(), Backend: opts.Backend, Start: time.Now()}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var selected []Scenario
	for _, sc := range scenarios {
		if opts.Filters.Match(sc.Name) {
			selected = append(selected, sc)
		} else {
			res.Skipped = append(res.Skipped, sc.Name)
		}
	}
	if d := opts.Filters.Describe(); d != "" {
		o.logger.Info("filters applied", "filters", d, "selected", len(selected), "skipped", len(res.Skipped))
	}

	limit := opts.Parallelism
	if limit <= 0 {
		limit = constants.DefaultParallelism
	}
	o.logger.Info("running suite", "run_id", res.RunID, "backend", opts.Backend, "scenarios", len(selected), "parallelism", limit)

	res.Outcomes = make([]Outcome, len(selected))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, sc := range selected {
		g.Go(func() error {
			res.Outcomes[i] = o.Run(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()

	res.End = time.Now()
	o.logger.Info("suite completed",
		"run_id", res.RunID,
		"passed", res.Passed(),
		"failed", len(res.Failed()),
		"duration", res.End.Sub(res.Start))
	return res
}
