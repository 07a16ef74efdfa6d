package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/loykin/sessprobe/pkg/backend"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/sebdah/goldie/v2"
)

func TestResults_ExitCode(t *testing.T) {
	pass := Outcome{Scenario: "a", Category: CategoryPassed}
	failWith := func(c Category) Outcome {
		return Outcome{Scenario: string(c), Failed: true, Category: c, Err: errors.New(string(c))}
	}

	tests := []struct {
		name    string
		results Results
		want    int
	}{
		{"empty suite", Results{}, 0},
		{"all passed", Results{Outcomes: []Outcome{pass, pass}}, 0},
		{"assertion failure", Results{Outcomes: []Outcome{pass, failWith(CategoryAssertion)}}, 1},
		{"parse failure", Results{Outcomes: []Outcome{failWith(CategoryParse)}}, 1},
		{"launch failure", Results{Outcomes: []Outcome{failWith(CategoryLaunch)}}, 1},
		{"backend failure", Results{Outcomes: []Outcome{failWith(CategoryBackend)}}, 1},
		{"internal failure wins", Results{Outcomes: []Outcome{failWith(CategoryAssertion), failWith(CategoryInternal)}}, 2},
		{"cancelled", Results{Outcomes: []Outcome{failWith(CategoryCancelled)}}, 2},
		{"suite error", Results{Err: errors.New("bad config")}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.results.ExitCode(); got != tt.want {
				t.Fatalf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRegexFilters(t *testing.T) {
	run, err := NewRegexList("^binary", "sasl")
	if err != nil {
		t.Fatalf("NewRegexList: %v", err)
	}
	skip, _ := NewRegexList("redis")
	f := RegexFilters{MustMatch: run, MustNotMatch: skip}

	tests := map[string]bool{
		"binary protocol":      true,
		"memcached sasl":       true,
		"sasl over redis":      false,
		"session continuity":   false,
		"binary protocol/text": true,
	}
	for name, want := range tests {
		if got := f.Match(name); got != want {
			t.Errorf("Match(%q) = %v, want %v", name, got, want)
		}
	}
	if f.Describe() == "" {
		t.Error("expected a description for defined filters")
	}
	if (RegexFilters{}).Describe() != "" || !(RegexFilters{}).Match("anything") {
		t.Error("empty filters select everything")
	}

	if _, err := NewRegexList("("); err == nil {
		t.Error("expected invalid regex error")
	}
}

func TestRunSuite_ParallelIsolated(t *testing.T) {
	r := newRig(t)
	var scenarios []Scenario
	for i := 0; i < 4; i++ {
		sc := memcachedScenario(fmt.Sprintf("scenario %d", i))
		sc.Assertions = []Assertion{{Label: fixture.LabelBinaryProtocol, Expected: "1"}}
		scenarios = append(scenarios, sc)
	}
	// one failing scenario must not affect the others
	scenarios[2].Assertions = []Assertion{{Label: fixture.LabelSessionHandler, Expected: "redis"}}

	res := r.orchestrator().RunSuite(context.Background(), scenarios, SuiteOptions{Backend: "memory", Parallelism: 2})
	if len(res.Outcomes) != 4 || res.RunID == "" {
		t.Fatalf("unexpected results: %+v", res)
	}
	for i, o := range res.Outcomes {
		if o.Scenario != scenarios[i].Name {
			t.Fatalf("outcome %d is %q, want %q", i, o.Scenario, scenarios[i].Name)
		}
	}
	if res.Passed() != 3 || len(res.Failed()) != 1 || res.Failed()[0].Scenario != "scenario 2" {
		t.Fatalf("expected only scenario 2 to fail: %+v", res.Failed())
	}
	if res.ExitCode() != 1 {
		t.Fatalf("ExitCode() = %d, want 1", res.ExitCode())
	}

	ctls := r.controllers()
	if len(ctls) != 4 {
		t.Fatalf("expected an isolated backend per scenario, got %d", len(ctls))
	}
	for i, c := range ctls {
		if c.shutdowns.Load() != 1 {
			t.Fatalf("backend %d shut down %d times", i, c.shutdowns.Load())
		}
	}
	if r.starts.Load() != 4 || r.stops.Load() != 4 {
		t.Fatalf("starts=%d stops=%d, want 4/4", r.starts.Load(), r.stops.Load())
	}
}

func TestRunSuite_Filters(t *testing.T) {
	r := newRig(t)
	scenarios := []Scenario{
		memcachedScenario("binary protocol"),
		memcachedScenario("sasl"),
		memcachedScenario("continuity"),
	}
	skip, _ := NewRegexList("sasl|continuity")

	res := r.orchestrator().RunSuite(context.Background(), scenarios, SuiteOptions{Filters: RegexFilters{MustNotMatch: skip}})
	if len(res.Outcomes) != 1 || res.Outcomes[0].Scenario != "binary protocol" {
		t.Fatalf("unexpected outcomes: %+v", res.Outcomes)
	}
	if diff := cmp.Diff([]string{"sasl", "continuity"}, res.Skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSuite_SharedBackend(t *testing.T) {
	r := newRig(t)
	pool := backend.NewPool(func(ctx context.Context, spec backend.Spec) (backend.Controller, error) {
		return r.startBackend(ctx, "", spec)
	})
	o, err := New(Dependencies{StartBackend: pool.Acquire, NewLauncher: r.newLauncher})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var scenarios []Scenario
	for i := 0; i < 3; i++ {
		sc := memcachedScenario(fmt.Sprintf("shared %d", i))
		sc.BackendName = "mem"
		sc.Backend.Shared = true
		sc.RequireContinuity = true
		sc.Requests = []Request{{Set: map[string]string{"n": fmt.Sprint(i)}}, {}}
		scenarios = append(scenarios, sc)
	}

	res := o.RunSuite(context.Background(), scenarios, SuiteOptions{Parallelism: 3})
	if res.ExitCode() != 0 {
		for _, f := range res.Failed() {
			t.Logf("%s: %v", f.Scenario, f.Err)
		}
		t.Fatalf("ExitCode() = %d, want 0", res.ExitCode())
	}
	ctls := r.controllers()
	if len(ctls) != 1 {
		t.Fatalf("shared backend should start once, got %d", len(ctls))
	}
	if ctls[0].resets.Load() != 3 || ctls[0].shutdowns.Load() != 1 {
		t.Fatalf("resets=%d shutdowns=%d, want 3/1", ctls[0].resets.Load(), ctls[0].shutdowns.Load())
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRunSuite_Cancelled(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.orchestrator().RunSuite(ctx, []Scenario{memcachedScenario("late")}, SuiteOptions{})
	if res.ExitCode() != 2 || res.Outcomes[0].Category != CategoryCancelled {
		t.Fatalf("expected cancelled suite, got %d %s", res.ExitCode(), res.Outcomes[0].Category)
	}
	if r.controllers()[0].shutdowns.Load() != 1 {
		t.Fatal("cancelled scenario must still shut its backend down")
	}
}

func TestPrintResults(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	res := Results{
		Outcomes: []Outcome{
			{Scenario: "binary protocol", Category: CategoryPassed, Reached: StateAsserted, Duration: 120 * time.Millisecond},
			{
				Scenario: "sasl on plain memcached",
				Failed:   true,
				Category: CategoryBackend,
				Reached:  StateInit,
				Err:      errors.New("backend memory: configure-sasl: operation not supported by backend"),
				Duration: 15 * time.Millisecond,
			},
		},
		Skipped: []string{"redis continuity"},
	}
	var buf bytes.Buffer
	PrintResults(&buf, res)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "results", buf.Bytes())

	buf.Reset()
	PrintResults(&buf, Results{Err: errors.New("no such backend")})
	if got := buf.String(); got != "ERROR suite could not run: no such backend\n" {
		t.Fatalf("unexpected suite error output: %q", got)
	}
}
