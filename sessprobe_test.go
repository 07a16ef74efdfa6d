package sessprobe

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loykin/sessprobe/internal/store/sqlite"
	"github.com/loykin/sessprobe/pkg/backend"
	"github.com/loykin/sessprobe/pkg/config"
	"github.com/loykin/sessprobe/pkg/orchestrator"
)

const builtinSuite = `
backends:
  mem:
    type: memory
    shared: true
    sasl: true
  other:
    type: memory

app:
  mode: builtin

parallelism: 2
bool_mode: word

scenarios:
  - name: memcached handler
    backends: [mem]
    config:
      handler: memcached
      binary_protocol: true
      sasl_user: probe
      sasl_pass: secret
    requests:
      - set: {user: alice}
      - path: /index.php
    require_continuity: true
    assertions:
      - label: Memcached Session Binary
        expected: "On"
      - label: Memcached SASL User
        expected: probe

  - name: redis handler
    config:
      handler: redis
    requests:
      - {}
    assertions:
      - label: Session Handler
        expected: redis
      - label: Redis Loaded
        expected: "On"
`

func loadBuiltinSuite(t *testing.T) *Suite {
	t.Helper()
	suite, err := config.Parse([]byte(builtinSuite))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	suite.Store.SQLite = sqlite.Config{Path: filepath.Join(t.TempDir(), "results.db")}
	return suite
}

func TestRunner_BuiltinAgainstSharedMemory(t *testing.T) {
	suite := loadBuiltinSuite(t)
	var starts atomic.Int32
	r := &Runner{
		Suite:   suite,
		Backend: "mem",
		Record:  true,
		StartBackend: func(ctx context.Context, spec backend.Spec) (backend.Controller, error) {
			starts.Add(1)
			return backend.Start(ctx, spec)
		},
	}
	res := r.Run(context.Background())
	if res.ExitCode() != 0 {
		for _, f := range res.Failed() {
			t.Logf("%s: %v", f.Scenario, f.Err)
		}
		t.Fatalf("ExitCode() = %d, want 0 (err=%v)", res.ExitCode(), res.Err)
	}
	if len(res.Outcomes) != 2 || res.Backend != "mem" {
		t.Fatalf("unexpected results: %+v", res)
	}
	if starts.Load() != 1 {
		t.Fatalf("shared backend started %d times, want 1", starts.Load())
	}

	st, err := OpenStore(suite.Store)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer func() { _ = st.Close() }()
	rec, err := st.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Passed != 2 || len(rec.Scenarios) != 2 || rec.Scenarios[0].SessionID == "" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestRunner_SelectsScenariosForBackend(t *testing.T) {
	suite := loadBuiltinSuite(t)
	res := (&Runner{Suite: suite, Backend: "other"}).Run(context.Background())
	if res.ExitCode() != 0 || len(res.Outcomes) != 1 || res.Outcomes[0].Scenario != "redis handler" {
		t.Fatalf("unexpected results: exit=%d %+v", res.ExitCode(), res.Outcomes)
	}
}

func TestRunner_Filters(t *testing.T) {
	skip, err := NewRegexList("redis")
	if err != nil {
		t.Fatal(err)
	}
	res := (&Runner{
		Suite:   loadBuiltinSuite(t),
		Backend: "mem",
		Filters: RegexFilters{MustNotMatch: skip},
	}).Run(context.Background())
	if res.ExitCode() != 0 || len(res.Outcomes) != 1 || len(res.Skipped) != 1 || res.Skipped[0] != "redis handler" {
		t.Fatalf("unexpected results: %+v", res)
	}
}

func TestRunner_HarnessErrors(t *testing.T) {
	tests := []struct {
		name   string
		runner *Runner
		want   string
	}{
		{"no suite", &Runner{}, "no suite loaded"},
		{"backend required", &Runner{Suite: loadBuiltinSuite(t)}, "a backend must be selected"},
		{"unknown backend", &Runner{Suite: loadBuiltinSuite(t), Backend: "redis"}, "unknown backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.runner.Run(context.Background())
			if res.ExitCode() != 2 || res.Err == nil || !strings.Contains(res.Err.Error(), tt.want) {
				t.Fatalf("exit=%d err=%v, want %q", res.ExitCode(), res.Err, tt.want)
			}
		})
	}
}

func TestRecordResults_Disabled(t *testing.T) {
	cfg := StoreConfig{Disabled: true}
	if err := RecordResults(context.Background(), cfg, Results{RunID: "x"}); err != nil {
		t.Fatalf("disabled store should record nothing, got %v", err)
	}
	if err := RecordResults(context.Background(), StoreConfig{Type: "oracle"}, orchestrator.Results{RunID: "x"}); err == nil {
		t.Fatal("expected error for unsupported store type")
	}
}
