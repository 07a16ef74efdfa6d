package fixture

import "fmt"

// ParseError reports a malformed fixture response. Line is 1-based and zero when the
// failure concerns the body as a whole.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("parse fixture response: %s", e.Reason)
	}
	return fmt.Sprintf("parse fixture response: line %d %q: %s", e.Line, e.Text, e.Reason)
}

// AssertionError reports a fixture value that did not match its expectation
type AssertionError struct {
	Label    string
	Expected string
	Actual   string
	Missing  bool
}

func (e *AssertionError) Error() string {
	if e.Missing {
		return fmt.Sprintf("assertion failed: label %q not present in fixture response", e.Label)
	}
	return fmt.Sprintf("assertion failed: %s: expected %q, got %q", e.Label, e.Expected, e.Actual)
}
