package fixture

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// BoolMode selects how the application under test prints booleans
type BoolMode int

const (
	// BoolNumeric renders true as "1" and false as the empty string
	BoolNumeric BoolMode = iota
	// BoolWord renders "true" / "false"
	BoolWord
)

// ParseBoolMode accepts "numeric" (default when empty) or "word"
func ParseBoolMode(s string) (BoolMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "numeric":
		return BoolNumeric, nil
	case "word":
		return BoolWord, nil
	default:
		return BoolNumeric, fmt.Errorf("unknown bool mode %q (want numeric or word)", s)
	}
}

func (m BoolMode) String() string {
	if m == BoolWord {
		return "word"
	}
	return "numeric"
}

// Format renders b the way the application prints it
func (m BoolMode) Format(b bool) string {
	if m == BoolWord {
		return strconv.FormatBool(b)
	}
	if b {
		return "1"
	}
	return ""
}

// Kind selects the comparison used by Asserter.Check
type Kind string

const (
	KindEquals Kind = "equals"
	KindBool   Kind = "bool"
	KindPath   Kind = "path"
)

// ParseKind validates an assertion kind; empty means KindEquals
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindEquals, nil
	case KindEquals, KindBool, KindPath:
		return k, nil
	default:
		return "", fmt.Errorf("unknown assertion kind %q", s)
	}
}

// AssertEquals compares the value of label literally and case-sensitively
func AssertEquals(resp Response, label, expected string) error {
	actual, ok := resp.Get(label)
	if !ok {
		return &AssertionError{Label: label, Expected: expected, Missing: true}
	}
	if actual != expected {
		return &AssertionError{Label: label, Expected: expected, Actual: actual}
	}
	return nil
}

// AssertPath compares save paths after normalisation: each comma separated entry is
// trimmed, URLs get a lower-cased scheme/host and sorted query, file paths are cleaned.
func AssertPath(resp Response, label, expected string) error {
	actual, ok := resp.Get(label)
	if !ok {
		return &AssertionError{Label: label, Expected: expected, Missing: true}
	}
	if NormalizePath(actual) != NormalizePath(expected) {
		return &AssertionError{Label: label, Expected: expected, Actual: actual}
	}
	return nil
}

// NormalizePath returns the comparison form used by AssertPath
func NormalizePath(s string) string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = normalizeOne(strings.TrimSpace(p))
	}
	return strings.Join(parts, ",")
}

func normalizeOne(p string) string {
	if p == "" {
		return p
	}
	if strings.Contains(p, "://") {
		u, err := url.Parse(p)
		if err != nil {
			return p
		}
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		if u.Path != "" {
			u.Path = path.Clean(u.Path)
		}
		u.RawQuery = u.Query().Encode()
		return u.String()
	}
	if strings.Contains(p, "/") {
		return path.Clean(p)
	}
	return p
}

// Asserter applies assertions using a configured boolean rendering
type Asserter struct {
	Mode BoolMode
}

// AssertBool checks that label renders want in the asserter's mode
func (a Asserter) AssertBool(resp Response, label string, want bool) error {
	return AssertEquals(resp, label, a.Mode.Format(want))
}

// Check dispatches on kind. For KindBool, expected is read with strconv.ParseBool and
// the empty string counts as false.
func (a Asserter) Check(resp Response, kind Kind, label, expected string) error {
	switch kind {
	case KindBool:
		want := false
		if strings.TrimSpace(expected) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(expected))
			if err != nil {
				return fmt.Errorf("assertion %q: invalid boolean expectation %q: %w", label, expected, err)
			}
			want = b
		}
		return a.AssertBool(resp, label, want)
	case KindPath:
		return AssertPath(resp, label, expected)
	default:
		return AssertEquals(resp, label, expected)
	}
}
