package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/loykin/sessprobe/internal/store/sqlite"
	"github.com/loykin/sessprobe/pkg/orchestrator"
)

func sampleResults(runID string, start time.Time) orchestrator.Results {
	return orchestrator.Results{
		RunID:   runID,
		Backend: "memcached",
		Start:   start,
		End:     start.Add(3 * time.Second),
		Skipped: []string{"redis only"},
		Outcomes: []orchestrator.Outcome{
			{
				Scenario: "binary protocol",
				RunID:    runID + "-a",
				Category: orchestrator.CategoryPassed,
				Reached:  orchestrator.StateAsserted,
				Trace:    orchestrator.SessionTrace{SessionID: "abc123"},
				Start:    start,
				Duration: 1500 * time.Millisecond,
			},
			{
				Scenario: "sasl",
				RunID:    runID + "-b",
				Failed:   true,
				Err:      errors.New("configure-sasl: operation not supported by backend"),
				Category: orchestrator.CategoryBackend,
				Reached:  orchestrator.StateInit,
				Start:    start.Add(time.Second),
				Duration: 20 * time.Millisecond,
			},
		},
	}
}

func openSQLite(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{SQLite: sqlite.Config{Path: filepath.Join(t.TempDir(), "results.db")}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFromResults(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := FromResults(sampleResults("run-1", start))

	if rec.ExitCode != 1 || rec.Passed != 1 || rec.Failed != 1 || rec.Skipped != 1 {
		t.Fatalf("unexpected totals: %+v", rec)
	}
	want := []ScenarioRecord{
		{RunID: "run-1", ScenarioRunID: "run-1-a", Name: "binary protocol", Category: "passed", State: "asserted", SessionID: "abc123", Duration: 1500 * time.Millisecond, StartedAt: start},
		{RunID: "run-1", ScenarioRunID: "run-1-b", Name: "sasl", Failed: true, Category: "backend", State: "init", Error: "configure-sasl: operation not supported by backend", Duration: 20 * time.Millisecond, StartedAt: start.Add(time.Second)},
	}
	if diff := cmp.Diff(want, rec.Scenarios); diff != "" {
		t.Fatalf("scenario records mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_RecordAndList(t *testing.T) {
	st := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := FromResults(sampleResults("run-1", base))
	second := FromResults(sampleResults("run-2", base.Add(time.Hour)))
	second.Error = "boom"
	for _, rec := range []SuiteRecord{first, second} {
		if err := st.RecordSuite(ctx, rec); err != nil {
			t.Fatalf("RecordSuite(%s): %v", rec.ID, err)
		}
	}

	runs, err := st.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	if runs[0].Error != "boom" || runs[1].Error != "" {
		t.Fatalf("error column not round-tripped: %+v", runs)
	}
	if !runs[1].StartedAt.Equal(base) || !runs[1].FinishedAt.Equal(base.Add(3*time.Second)) {
		t.Fatalf("times not round-tripped: %+v", runs[1])
	}

	limited, err := st.ListRuns(ctx, 1)
	if err != nil || len(limited) != 1 || limited[0].ID != "run-2" {
		t.Fatalf("ListRuns(1) = %+v, %v", limited, err)
	}

	got, err := st.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if diff := cmp.Diff(first.Scenarios, got.Scenarios); diff != "" {
		t.Fatalf("scenario records mismatch (-want +got):\n%s", diff)
	}

	if _, err := st.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RecordSuite_DuplicateRolledBack(t *testing.T) {
	st := openSQLite(t)
	ctx := context.Background()
	rec := FromResults(sampleResults("dup", time.Now()))
	if err := st.RecordSuite(ctx, rec); err != nil {
		t.Fatalf("RecordSuite: %v", err)
	}
	if err := st.RecordSuite(ctx, rec); err == nil {
		t.Fatal("expected primary key violation")
	}
	scenarios, err := st.ListScenarioResults(ctx, "dup")
	if err != nil || len(scenarios) != 2 {
		t.Fatalf("failed insert must not leave partial rows: %d %v", len(scenarios), err)
	}
	if err := st.RecordSuite(ctx, SuiteRecord{}); err == nil {
		t.Fatal("expected error for record without id")
	}
}

func TestStore_Prune(t *testing.T) {
	st := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "older", "new"} {
		start := base.Add(-time.Duration(i) * 24 * time.Hour)
		if id == "new" {
			start = base.Add(48 * time.Hour)
		}
		if err := st.RecordSuite(ctx, FromResults(sampleResults(id, start))); err != nil {
			t.Fatalf("RecordSuite: %v", err)
		}
	}

	n, err := st.Prune(ctx, base.Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("Prune = %d, %v; want 2", n, err)
	}
	runs, _ := st.ListRuns(ctx, 0)
	if len(runs) != 1 || runs[0].ID != "new" {
		t.Fatalf("unexpected runs after prune: %+v", runs)
	}
	if left, _ := st.ListScenarioResults(ctx, "old"); len(left) != 0 {
		t.Fatalf("scenario rows of pruned runs remain: %+v", left)
	}
}

func TestOpen_Config(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "disabled", cfg: Config{Disabled: true}, wantErr: ErrDisabled.Error()},
		{name: "unknown type", cfg: Config{Type: "mongo"}, wantErr: "unsupported store type"},
		{name: "bad table name", cfg: Config{TableNames: TableNames{SuiteRuns: "runs; DROP TABLE x"}}, wantErr: "invalid table name"},
		{name: "same table names", cfg: Config{TableNames: TableNames{SuiteRuns: "t", ScenarioResults: "t"}}, wantErr: "must differ"},
		{name: "postgres without host", cfg: Config{Type: "postgres"}, wantErr: "requires dsn or host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Open() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_CustomTableNames(t *testing.T) {
	st, err := Open(Config{
		Type:       "sqlite",
		SQLite:     sqlite.Config{Path: filepath.Join(t.TempDir(), "custom.db")},
		TableNames: TableNames{SuiteRuns: "probe_runs", ScenarioResults: "probe_results"},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.RecordSuite(context.Background(), FromResults(sampleResults("r", time.Now()))); err != nil {
		t.Fatalf("RecordSuite: %v", err)
	}
	var n int
	if err := st.DB.QueryRow("SELECT COUNT(*) FROM probe_results").Scan(&n); err != nil || n != 2 {
		t.Fatalf("expected rows in custom table: %d %v", n, err)
	}
}
