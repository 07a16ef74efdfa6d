package store

import (
	"time"

	"github.com/loykin/sessprobe/pkg/orchestrator"
)

// SuiteRecord is one persisted suite run
type SuiteRecord struct {
	ID         string
	Backend    string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Passed     int
	Failed     int
	Skipped    int
	Error      string
	Scenarios  []ScenarioRecord
}

// ScenarioRecord is one persisted scenario outcome
type ScenarioRecord struct {
	RunID         string
	ScenarioRunID string
	Name          string
	Failed        bool
	Category      string
	State         string
	Error         string
	SessionID     string
	Duration      time.Duration
	StartedAt     time.Time
}

// FromResults flattens suite results into their persisted form
func FromResults(r orchestrator.Results) SuiteRecord {
	rec := SuiteRecord{
		ID:         r.RunID,
		Backend:    r.Backend,
		StartedAt:  r.Start,
		FinishedAt: r.End,
		ExitCode:   r.ExitCode(),
		Passed:     r.Passed(),
		Failed:     len(r.Failed()),
		Skipped:    len(r.Skipped),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	for _, o := range r.Outcomes {
		rec.Scenarios = append(rec.Scenarios, ScenarioRecord{
			RunID:         r.RunID,
			ScenarioRunID: o.RunID,
			Name:          o.Scenario,
			Failed:        o.Failed,
			Category:      string(o.Category),
			State:         o.Reached.String(),
			Error:         o.Error(),
			SessionID:     o.Trace.SessionID,
			Duration:      o.Duration,
			StartedAt:     o.Start,
		})
	}
	return rec
}
