package orchestrator

import "fmt"

// State is a step of the scenario lifecycle
type State int

const (
	StateInit State = iota
	StateBackendReady
	StateAppLaunched
	StateRequestsIssued
	StateAsserted
	StateTornDown
)

var stateNames = [...]string{
	StateInit:           "init",
	StateBackendReady:   "backend_ready",
	StateAppLaunched:    "app_launched",
	StateRequestsIssued: "requests_issued",
	StateAsserted:       "asserted",
	StateTornDown:       "torn_down",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// next returns the state a successful step leads to
func (s State) next() State {
	if s >= StateAsserted {
		return StateTornDown
	}
	return s + 1
}

// canTransition reports whether from → to is a legal move. Every state may jump to
// TornDown; everything else advances one step at a time.
func canTransition(from, to State) bool {
	if to == StateTornDown {
		return from != StateTornDown
	}
	return to == from.next()
}

// Category classifies how a scenario ended
type Category string

const (
	CategoryPassed    Category = "passed"
	CategoryAssertion Category = "assertion"
	CategoryParse     Category = "parse"
	CategoryBackend   Category = "backend"
	CategoryLaunch    Category = "launch"
	CategoryInternal  Category = "internal"
	CategoryCancelled Category = "cancelled"
)

// Internal reports whether the category is a harness failure rather than a verdict on
// the backend under test
func (c Category) Internal() bool {
	return c == CategoryInternal || c == CategoryCancelled
}
