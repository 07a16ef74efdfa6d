package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/pkg/backend"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/loykin/sessprobe/pkg/orchestrator"
)

func TestLoad_Suite(t *testing.T) {
	doc, err := Load("testdata/suite.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if diff := cmp.Diff([]string{"memcached", "memory", "redis"}, doc.BackendNames()); diff != "" {
		t.Fatalf("backend names mismatch (-want +got):\n%s", diff)
	}
	if doc.AppMode() != AppModeProcess || doc.App.Command != "php" || doc.App.InitialDelay != 50*time.Millisecond {
		t.Fatalf("unexpected app: %+v", doc.App)
	}
	if doc.Parallelism != 2 || doc.RequestTimeout != 5*time.Second || doc.Store.SQLite.Path != "results.db" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if !doc.Backends["memory"].Shared || doc.Backends["redis"].Address != "127.0.0.1:6379" {
		t.Fatalf("unexpected backends: %+v", doc.Backends)
	}
}

func TestDocument_Scenarios(t *testing.T) {
	doc, err := Load("testdata/suite.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		backend string
		want    []string
	}{
		{"memcached", []string{"binary protocol", "session continuity", "sasl credentials"}},
		{"memory", []string{"binary protocol", "session continuity"}},
		{"redis", []string{"session continuity"}},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			scenarios, err := doc.Scenarios(tt.backend)
			if err != nil {
				t.Fatalf("Scenarios: %v", err)
			}
			var names []string
			for _, sc := range scenarios {
				names = append(names, sc.Name)
				if sc.BackendName != tt.backend || sc.Backend.Type == "" {
					t.Fatalf("scenario %q not bound to backend: %+v", sc.Name, sc.Backend)
				}
			}
			if diff := cmp.Diff(tt.want, names); diff != "" {
				t.Fatalf("scenarios mismatch (-want +got):\n%s", diff)
			}
		})
	}

	scenarios, _ := doc.Scenarios("memcached")
	binary, continuity, sasl := scenarios[0], scenarios[1], scenarios[2]
	if binary.Assertions[0].Expected != "1" || binary.Assertions[1].Kind != fixture.KindPath {
		t.Fatalf("assertions not decoded: %+v", binary.Assertions)
	}
	if !binary.Config.BinaryProtocol || binary.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected binary scenario: %+v", binary)
	}
	wantRequests := []orchestrator.Request{
		{Set: map[string]string{"user": "alice"}},
		{Path: "/index.php", Query: map[string]string{"page": "2"}},
	}
	if diff := cmp.Diff(wantRequests, continuity.Requests); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
	if !continuity.RequireContinuity || continuity.Timeout != 30*time.Second {
		t.Fatalf("unexpected continuity scenario: %+v", continuity)
	}
	if sasl.BoolMode != fixture.BoolWord || sasl.Config.SASLUser == nil || *sasl.Config.SASLUser != "probe" {
		t.Fatalf("unexpected sasl scenario: %+v", sasl)
	}

	if _, err := doc.Scenarios("postgres"); err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad yaml", "backends: [", "parse yaml"},
		{"unknown key", "backend: {}", "invalid keys"},
		{"bad duration", "timeout: soon", "time: invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestDocument_Validate(t *testing.T) {
	base := func() *Document {
		return &Document{
			Backends: map[string]backend.Spec{"mem": {Type: backend.TypeMemory}},
			Scenarios: []ScenarioConfig{{
				Name:     "one",
				Requests: []orchestrator.Request{{}},
			}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(d *Document)
		wantErr string
	}{
		{"valid builtin", func(d *Document) {}, ""},
		{"no backends", func(d *Document) { d.Backends = nil }, "at least one backend"},
		{"bad backend", func(d *Document) { d.Backends["x"] = backend.Spec{Type: "mongo"} }, `backend "x"`},
		{"process without command", func(d *Document) { d.App.Mode = "process" }, "app.command is required"},
		{"bad app mode", func(d *Document) { d.App.Mode = "docker" }, "invalid app.mode"},
		{"negative parallelism", func(d *Document) { d.Parallelism = -1 }, "parallelism"},
		{"bad bool mode", func(d *Document) { d.BoolMode = "yesno" }, "bool mode"},
		{"duplicate scenario", func(d *Document) { d.Scenarios = append(d.Scenarios, d.Scenarios[0]) }, "duplicate name"},
		{"unknown scenario backend", func(d *Document) { d.Scenarios[0].Backends = []string{"redis"} }, `unknown backend "redis"`},
		{"scenario without requests", func(d *Document) { d.Scenarios[0].Requests = nil }, "at least one request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_NotRegularFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not a regular file") {
		t.Fatalf("expected not a regular file error, got %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	yes := true
	tests := []struct {
		name    string
		cfg     LoggingConfig
		level   common.LogLevel
		wantErr bool
	}{
		{name: "defaults", cfg: LoggingConfig{}, level: common.LogLevelInfo},
		{name: "debug json", cfg: LoggingConfig{Level: "DEBUG", Format: "json"}, level: common.LogLevelDebug},
		{name: "warning alias", cfg: LoggingConfig{Level: "warning", Format: "text", Color: &yes}, level: common.LogLevelWarn},
		{name: "colour", cfg: LoggingConfig{Level: "error", Format: "colour"}, level: common.LogLevelError},
		{name: "bad level", cfg: LoggingConfig{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: LoggingConfig{Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := tt.cfg.NewLogger()
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && logger.Level() != tt.level {
				t.Fatalf("Level() = %v, want %v", logger.Level(), tt.level)
			}
		})
	}
}

func TestLoggingConfig_SetupLogging(t *testing.T) {
	prev := common.GetLogger()
	defer common.SetDefaultLogger(prev)
	defer common.EnableMasking(true)

	off := false
	if err := (LoggingConfig{Level: "debug", MaskSensitive: &off}).SetupLogging(); err != nil {
		t.Fatalf("SetupLogging: %v", err)
	}
	if common.GetLogger().Level() != common.LogLevelDebug || common.IsMaskingEnabled() {
		t.Fatal("logger or masking not installed")
	}
}
