// Package fixture owns the grammar of the fixture page served by the application under test:
// one `Label: value<br/>` line per configuration value. It parses responses into ordered
// pairs and provides typed assertions over them.
package fixture

import (
	"fmt"
	"regexp"
	"strings"
)

// Fixture labels, in the order the page renders them
const (
	LabelRedisLoaded     = "Redis Loaded"
	LabelMemcachedLoaded = "Memcached Loaded"
	LabelSessionHandler  = "Session Handler"
	LabelSessionName     = "Session Name"
	LabelSessionSavePath = "Session Save Path"
	LabelBinaryProtocol  = "Memcached Session Binary"
	LabelSASLUser        = "Memcached SASL User"
	LabelSASLPass        = "Memcached SASL Pass"
)

// Labels lists every fixture label in render order
var Labels = []string{
	LabelRedisLoaded,
	LabelMemcachedLoaded,
	LabelSessionHandler,
	LabelSessionName,
	LabelSessionSavePath,
	LabelBinaryProtocol,
	LabelSASLUser,
	LabelSASLPass,
}

// Marker terminates every fixture line
const Marker = "<br/>"

var (
	markerRe = regexp.MustCompile(`(?i)<br\s*/?>$`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
)

// Pair is one labelled line of a fixture response
type Pair struct {
	Label string
	Value string
}

// Response is an ordered set of pairs parsed from one HTTP round-trip
type Response struct {
	Pairs []Pair
}

// Get returns the value recorded for label
func (r Response) Get(label string) (string, bool) {
	for _, p := range r.Pairs {
		if p.Label == label {
			return p.Value, true
		}
	}
	return "", false
}

// Map returns the pairs keyed by label
func (r Response) Map() map[string]string {
	m := make(map[string]string, len(r.Pairs))
	for _, p := range r.Pairs {
		m[p.Label] = p.Value
	}
	return m
}

// Labels returns the labels in response order
func (r Response) Labels() []string {
	out := make([]string, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		out = append(out, p.Label)
	}
	return out
}

// Parse splits a fixture body into pairs. Blank lines are ignored; every other line must
// have the `Label: value<br/>` shape. HTML tags inside the value are stripped and entities
// decoded. An empty body or a repeated label is a ParseError.
func Parse(body string) (Response, error) {
	if strings.TrimSpace(body) == "" {
		return Response{}, &ParseError{Reason: "empty response"}
	}

	var resp Response
	seen := map[string]int{}
	for i, raw := range strings.Split(body, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" {
			continue
		}

		loc := markerRe.FindStringIndex(line)
		if loc == nil {
			return Response{}, &ParseError{Line: lineNo, Text: raw, Reason: "missing " + Marker + " marker"}
		}
		line = line[:loc[0]]

		label, value, ok := strings.Cut(line, ":")
		if !ok {
			return Response{}, &ParseError{Line: lineNo, Text: raw, Reason: "missing ':' separator"}
		}
		label = strings.TrimSpace(tagRe.ReplaceAllString(label, ""))
		if label == "" {
			return Response{}, &ParseError{Line: lineNo, Text: raw, Reason: "empty label"}
		}
		if prev, dup := seen[label]; dup {
			return Response{}, &ParseError{Line: lineNo, Text: raw, Reason: fmt.Sprintf("duplicate label %q (first on line %d)", label, prev)}
		}
		seen[label] = lineNo

		// values are printed raw, so entities are kept as written
		value = tagRe.ReplaceAllString(value, "")
		resp.Pairs = append(resp.Pairs, Pair{Label: label, Value: strings.TrimSpace(value)})
	}

	if len(resp.Pairs) == 0 {
		return Response{}, &ParseError{Reason: "no fixture lines"}
	}
	return resp, nil
}

// ParseExpected parses body and requires every one of labels to be present
func ParseExpected(body string, labels []string) (Response, error) {
	resp, err := Parse(body)
	if err != nil {
		return Response{}, err
	}
	var missing []string
	for _, l := range labels {
		if _, ok := resp.Get(l); !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		return Response{}, &ParseError{Reason: fmt.Sprintf("missing labels: %s", strings.Join(missing, ", "))}
	}
	return resp, nil
}

// Render writes pairs in the fixture grammar. Parse(Render(p)) yields p for values
// without surrounding whitespace or markup.
func Render(pairs []Pair) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p.Label)
		b.WriteString(": ")
		b.WriteString(p.Value)
		b.WriteString(Marker)
		b.WriteString("\n")
	}
	return b.String()
}
