package fixture

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, body string) Response {
	t.Helper()
	resp, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return resp
}

func TestAssertEquals(t *testing.T) {
	resp := mustParse(t, memcachedPage)

	if err := AssertEquals(resp, LabelSessionHandler, "memcached"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}

	err := AssertEquals(resp, LabelSessionHandler, "Memcached")
	var ae *AssertionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AssertionError for case mismatch, got %v", err)
	}
	if ae.Missing || ae.Actual != "memcached" || ae.Expected != "Memcached" {
		t.Fatalf("unexpected assertion error: %+v", ae)
	}

	err = AssertEquals(resp, "Nope", "x")
	if !errors.As(err, &ae) || !ae.Missing {
		t.Fatalf("expected missing AssertionError, got %v", err)
	}
}

func TestAsserter_AssertBool(t *testing.T) {
	numeric := mustParse(t, "Memcached Session Binary: 1<br/>\nRedis Loaded: <br/>\n")
	word := mustParse(t, "Memcached Session Binary: true<br/>\nRedis Loaded: false<br/>\n")

	tests := []struct {
		name    string
		mode    BoolMode
		resp    Response
		label   string
		want    bool
		wantErr bool
	}{
		{"numeric true", BoolNumeric, numeric, LabelBinaryProtocol, true, false},
		{"numeric false is empty", BoolNumeric, numeric, LabelRedisLoaded, false, false},
		{"numeric mismatch", BoolNumeric, numeric, LabelRedisLoaded, true, true},
		{"word true", BoolWord, word, LabelBinaryProtocol, true, false},
		{"word false", BoolWord, word, LabelRedisLoaded, false, false},
		{"numeric against word output", BoolNumeric, word, LabelBinaryProtocol, true, true},
		{"missing label", BoolNumeric, numeric, LabelSASLUser, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Asserter{Mode: tt.mode}.AssertBool(tt.resp, tt.label, tt.want)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AssertBool err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAssertPath(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		wantErr  bool
	}{
		{"identical", "/tmp/sessions", "/tmp/sessions", false},
		{"trailing slash", "/tmp/sessions/", "/tmp/sessions", false},
		{"dot segments", "/tmp/./a/../sessions", "/tmp/sessions", false},
		{"url host case", "tcp://LOCALHOST:6379", "tcp://localhost:6379", false},
		{"url query order", "tcp://h:6379?weight=1&auth=pw", "tcp://h:6379?auth=pw&weight=1", false},
		{"server list spacing", "127.0.0.1:11211, 10.0.0.2:11211", "127.0.0.1:11211,10.0.0.2:11211", false},
		{"different port", "tcp://h:6380", "tcp://h:6379", true},
		{"different dir", "/tmp/a", "/tmp/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Response{Pairs: []Pair{{LabelSessionSavePath, tt.actual}}}
			err := AssertPath(resp, LabelSessionSavePath, tt.expected)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AssertPath(%q, %q) err = %v, wantErr %v", tt.actual, tt.expected, err, tt.wantErr)
			}
		})
	}
}

func TestAsserter_Check(t *testing.T) {
	resp := mustParse(t, memcachedPage)
	a := Asserter{}

	if err := a.Check(resp, KindBool, LabelBinaryProtocol, "true"); err != nil {
		t.Errorf("bool true: %v", err)
	}
	if err := a.Check(resp, KindBool, LabelRedisLoaded, ""); err != nil {
		t.Errorf("bool empty expectation: %v", err)
	}
	if err := a.Check(resp, KindBool, LabelRedisLoaded, "maybe"); err == nil {
		t.Error("expected error for invalid boolean expectation")
	}
	if err := a.Check(resp, KindEquals, LabelSASLUser, "alice"); err != nil {
		t.Errorf("equals: %v", err)
	}
	if err := a.Check(resp, KindPath, LabelSessionSavePath, "PERSISTENT=myapp_session 127.0.0.1:11211"); err != nil {
		t.Errorf("path: %v", err)
	}
}

func TestParseBoolModeAndKind(t *testing.T) {
	if m, err := ParseBoolMode(""); err != nil || m != BoolNumeric {
		t.Fatalf("default mode = %v, %v", m, err)
	}
	if m, err := ParseBoolMode("Word"); err != nil || m != BoolWord || m.String() != "word" {
		t.Fatalf("word mode = %v, %v", m, err)
	}
	if _, err := ParseBoolMode("yes"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if BoolNumeric.Format(false) != "" || BoolNumeric.Format(true) != "1" {
		t.Fatal("numeric format mismatch")
	}

	if k, err := ParseKind(""); err != nil || k != KindEquals {
		t.Fatalf("default kind = %v, %v", k, err)
	}
	if _, err := ParseKind("regex"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
