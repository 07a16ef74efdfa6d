package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/sessprobe/pkg/backend"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/loykin/sessprobe/pkg/launcher"
)

// Request is one GET against the application. Set entries are sent as set=key=value and
// recorded in the session trace.
type Request struct {
	Path   string            `mapstructure:"path" yaml:"path"`
	Query  map[string]string `mapstructure:"query" yaml:"query"`
	Set    map[string]string `mapstructure:"set" yaml:"set"`
	Status int               `mapstructure:"status" yaml:"status"`
}

func (r Request) path() string {
	if r.Path == "" {
		return "/"
	}
	if !strings.HasPrefix(r.Path, "/") {
		return "/" + r.Path
	}
	return r.Path
}

func (r Request) status() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// Assertion checks one fixture label of the final response
type Assertion struct {
	Label    string       `mapstructure:"label" yaml:"label"`
	Expected string       `mapstructure:"expected" yaml:"expected"`
	Kind     fixture.Kind `mapstructure:"kind" yaml:"kind"`
}

// Scenario is one isolated verification run: a backend, one application launch, an ordered
// request sequence and the assertions on its last response
type Scenario struct {
	Name string
	// BackendName keys shared backends in the pool
	BackendName string
	Backend     backend.Spec
	Config      launcher.BackendConfig
	Requests    []Request
	Assertions  []Assertion
	BoolMode    fixture.BoolMode
	// Labels the fixture page must carry; empty means fixture.Labels
	Labels []string
	// RequireContinuity demands one session id and one session name across all responses
	RequireContinuity bool
	Timeout           time.Duration
	RequestTimeout    time.Duration
}

// Validate rejects scenarios that cannot run
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("scenario name is required")
	}
	if len(s.Requests) == 0 {
		return fmt.Errorf("scenario %q: at least one request is required", s.Name)
	}
	if s.RequireContinuity && len(s.Requests) < 2 {
		return fmt.Errorf("scenario %q: session continuity needs at least two requests", s.Name)
	}
	for i, a := range s.Assertions {
		if strings.TrimSpace(a.Label) == "" {
			return fmt.Errorf("scenario %q: assertion %d has no label", s.Name, i+1)
		}
		if _, err := fixture.ParseKind(string(a.Kind)); err != nil {
			return fmt.Errorf("scenario %q: assertion %q: %w", s.Name, a.Label, err)
		}
	}
	if err := s.backendConfig().Validate(); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return nil
}

// backendConfig is Config with the handler defaulting to the backend type
func (s Scenario) backendConfig() launcher.BackendConfig {
	cfg := s.Config
	if cfg.HandlerName == "" {
		cfg.HandlerName = string(s.Backend.WithDefaults().Type)
	}
	return cfg
}

func (s Scenario) labels() []string {
	if len(s.Labels) > 0 {
		return s.Labels
	}
	return fixture.Labels
}

// SessionTrace records the session observed across a scenario's requests
type SessionTrace struct {
	SessionID string
	SetAt     time.Time
	Values    map[string]string
}

// Outcome is the result of one scenario run
type Outcome struct {
	Scenario string
	RunID    string
	Failed   bool
	Err      error
	Category Category
	// Reached is the last state entered before teardown
	Reached     State
	Transitions []State
	Trace       SessionTrace
	Start       time.Time
	End         time.Time
	Duration    time.Duration
}

// Error returns the failure message, or the empty string for a passing outcome
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func (o *Outcome) enter(s State) {
	if len(o.Transitions) > 0 && !canTransition(o.Transitions[len(o.Transitions)-1], s) {
		panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", o.Transitions[len(o.Transitions)-1], s))
	}
	o.Transitions = append(o.Transitions, s)
	if s != StateTornDown {
		o.Reached = s
	}
}

func (o *Outcome) fail(c Category, err error) {
	o.Failed = true
	o.Category = c
	o.Err = err
}

// RequestError reports a request that failed in transport or returned an unexpected status
type RequestError struct {
	Index  int
	Path   string
	Status int
	Want   int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request %d GET %s: %v", e.Index+1, e.Path, e.Err)
	}
	return fmt.Sprintf("request %d GET %s: status %d, want %d", e.Index+1, e.Path, e.Status, e.Want)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ContinuityError reports a session that changed between requests
type ContinuityError struct {
	Index    int
	What     string
	Expected string
	Actual   string
}

func (e *ContinuityError) Error() string {
	return fmt.Sprintf("session continuity broken at request %d: %s changed from %q to %q", e.Index+1, e.What, e.Expected, e.Actual)
}
