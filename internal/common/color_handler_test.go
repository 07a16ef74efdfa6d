package common

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestColorLogger(buf *bytes.Buffer, useColor bool) *slog.Logger {
	h := NewColorHandler(buf, slog.LevelDebug, false)
	h.SetColorEnabled(useColor)
	return slog.New(h)
}

func TestColorHandler_Plain(t *testing.T) {
	var buf bytes.Buffer
	l := newTestColorLogger(&buf, false).
		With("component", "orchestrator", "scenario", "binary protocol").
		With("backend", "memcached")
	l.Info("scenario passed", "duration", 1500*time.Microsecond, "session_id", "abc", "continuity", true)

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("unexpected escape codes: %q", out)
	}
	want := "INFO  [orchestrator/memcached/binary protocol] scenario passed duration=1.5ms session_id=abc continuity=true\n"
	if !strings.HasSuffix(out, want) {
		t.Fatalf("got %q, want suffix %q", out, want)
	}
}

func TestColorHandler_Colors(t *testing.T) {
	var buf bytes.Buffer
	newTestColorLogger(&buf, true).Error("scenario failed", "category", "assertion", "error", "mismatch")
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected escape codes: %q", buf.String())
	}
}

func TestColorHandler_QuotingAndMasking(t *testing.T) {
	EnableMasking(true)
	var buf bytes.Buffer
	newTestColorLogger(&buf, false).Warn("retry", "error", "connection refused", "sasl_pass", "secret", "empty", "")
	out := buf.String()
	for _, want := range []string{`error="connection refused"`, "sasl_pass=" + MaskedValue, `empty=""`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestColorHandler_GroupsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, slog.LevelWarn, false)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be filtered at warn level")
	}
	l := slog.New(h).WithGroup("launch").With("port", 8080)
	l.Warn("port in use", "attempt", 2)
	out := buf.String()
	if !strings.Contains(out, "launch.port=8080") || !strings.Contains(out, "launch.attempt=2") {
		t.Fatalf("group prefix missing: %q", out)
	}
}

func TestColorHandler_AutoDetect(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, nil, true)
	if h.useColor {
		t.Fatal("a buffer is not a terminal")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) || h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("nil level defaults to info")
	}
}
