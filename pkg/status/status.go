// Package status summarises the suite runs recorded in the result store.
package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/sessprobe/internal/store"
)

// Status display constants
const (
	defaultHistoryLimit = 10 // Default number of runs to show
)

// RunItem is one recorded suite run
type RunItem struct {
	ID        string
	Backend   string
	StartedAt time.Time
	Duration  time.Duration
	ExitCode  int
	Passed    int
	Failed    int
	Skipped   int
	Error     string
}

// Info is the newest-first run history, optionally with one run's scenarios
type Info struct {
	Runs   []RunItem
	Detail *store.SuiteRecord
}

// FromStore collects up to limit runs from an opened store; limit <= 0 uses the default
// and a non-empty runID loads that run's scenarios as Detail.
func FromStore(ctx context.Context, st *store.Store, limit int, runID string) (Info, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return Info{}, err
	}
	info := Info{Runs: make([]RunItem, 0, len(runs))}
	for _, r := range runs {
		info.Runs = append(info.Runs, RunItem{
			ID:        r.ID,
			Backend:   r.Backend,
			StartedAt: r.StartedAt,
			Duration:  r.FinishedAt.Sub(r.StartedAt),
			ExitCode:  r.ExitCode,
			Passed:    r.Passed,
			Failed:    r.Failed,
			Skipped:   r.Skipped,
			Error:     r.Error,
		})
	}
	if runID != "" {
		rec, err := st.GetRun(ctx, runID)
		if err != nil {
			return Info{}, err
		}
		info.Detail = &rec
	}
	return info, nil
}

// FromConfig opens the configured store, collects status, and closes it.
func FromConfig(ctx context.Context, cfg store.Config, limit int, runID string) (Info, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = st.Close() }()
	return FromStore(ctx, st, limit, runID)
}

// FormatHuman returns a human-friendly multiline string for CLI output
func (i Info) FormatHuman() string {
	var b strings.Builder
	if len(i.Runs) == 0 {
		b.WriteString("runs: \n")
	} else {
		b.WriteString("runs:\n")
	}
	for _, r := range i.Runs {
		fmt.Fprintf(&b, "%s backend=%s exit=%d passed=%d failed=%d skipped=%d at=%s took=%s\n",
			r.ID, r.Backend, r.ExitCode, r.Passed, r.Failed, r.Skipped,
			r.StartedAt.UTC().Format(time.RFC3339), r.Duration.Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", r.Error)
		}
	}
	if i.Detail != nil {
		fmt.Fprintf(&b, "run %s:\n", i.Detail.ID)
		for _, sc := range i.Detail.Scenarios {
			result := "pass"
			if sc.Failed {
				result = "fail"
			}
			fmt.Fprintf(&b, "  %s %q category=%s state=%s took=%s", result, sc.Name, sc.Category, sc.State, sc.Duration)
			if sc.SessionID != "" {
				fmt.Fprintf(&b, " session=%s", sc.SessionID)
			}
			b.WriteString("\n")
			if sc.Error != "" {
				for _, line := range strings.Split(sc.Error, "\n") {
					fmt.Fprintf(&b, "    %s\n", line)
				}
			}
		}
	}
	return b.String()
}
