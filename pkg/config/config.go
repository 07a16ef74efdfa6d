// Package config loads suite files: the backends a suite can target, how to launch the
// application under test, the scenarios to run and the ambient logging and store settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/sessprobe/internal/store"
	"github.com/loykin/sessprobe/internal/util"
	"github.com/loykin/sessprobe/pkg/backend"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/loykin/sessprobe/pkg/launcher"
	"github.com/loykin/sessprobe/pkg/orchestrator"
	"gopkg.in/yaml.v3"
)

const (
	// AppModeProcess launches app.command as a child process
	AppModeProcess = "process"
	// AppModeBuiltin serves the reference fixture application in-process
	AppModeBuiltin = "builtin"
)

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
	Color         *bool  `mapstructure:"color" yaml:"color"`                   // enable/disable colorized output
}

// AppConfig describes the application under test
type AppConfig struct {
	// Mode is process (default when a command is set) or builtin
	Mode             string `mapstructure:"mode" yaml:"mode"`
	launcher.AppSpec `mapstructure:",squash" yaml:",inline"`
}

// ScenarioConfig is one scenario as written in the suite file
type ScenarioConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Backends restricts the scenario to the named backends; empty runs it against any
	Backends          []string                 `mapstructure:"backends" yaml:"backends"`
	Config            launcher.BackendConfig   `mapstructure:"config" yaml:"config"`
	Requests          []orchestrator.Request   `mapstructure:"requests" yaml:"requests"`
	Assertions        []orchestrator.Assertion `mapstructure:"assertions" yaml:"assertions"`
	Labels            []string                 `mapstructure:"labels" yaml:"labels"`
	RequireContinuity bool                     `mapstructure:"require_continuity" yaml:"require_continuity"`
	BoolMode          string                   `mapstructure:"bool_mode" yaml:"bool_mode"`
	Timeout           time.Duration            `mapstructure:"timeout" yaml:"timeout"`
	RequestTimeout    time.Duration            `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Document is a decoded suite file
type Document struct {
	Backends       map[string]backend.Spec `mapstructure:"backends" yaml:"backends"`
	App            AppConfig               `mapstructure:"app" yaml:"app"`
	Scenarios      []ScenarioConfig        `mapstructure:"scenarios" yaml:"scenarios"`
	Logging        LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Store          store.Config            `mapstructure:"store" yaml:"store"`
	Parallelism    int                     `mapstructure:"parallelism" yaml:"parallelism"`
	BoolMode       string                  `mapstructure:"bool_mode" yaml:"bool_mode"`
	Timeout        time.Duration           `mapstructure:"timeout" yaml:"timeout"`
	RequestTimeout time.Duration           `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Load reads and decodes a suite file. Unknown keys are rejected.
func Load(path string) (*Document, error) {
	clean := filepath.Clean(path)
	// Ensure path points to a regular file to avoid opening directories/special files
	if info, statErr := os.Stat(clean); statErr != nil || !info.Mode().IsRegular() {
		if statErr != nil {
			return nil, statErr
		}
		return nil, fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- suite path is provided intentionally by the user/CI; cleaned and validated above
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", clean, err)
	}
	return doc, nil
}

// Parse decodes a suite document from YAML
func Parse(data []byte) (*Document, error) {
	var raw map[string]interface{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	doc := &Document{}
	if err := Decode(raw, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Decode maps loosely typed input onto out with the suite decode hooks: duration strings,
// comma separated lists and scalar values for string maps
func Decode(input interface{}, out interface{}) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			scalarToStringHook,
		),
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return d.Decode(input)
}

// scalarToStringHook lets YAML scalars such as `n: 1` or `binary: true` fill string fields
func scalarToStringHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.String || from.Kind() == reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int64, reflect.Uint64, reflect.Float64:
		return fmt.Sprint(data), nil
	}
	return data, nil
}

// Validate checks the document as a whole and every scenario against every backend it
// may run on
func (d *Document) Validate() error {
	var errs []error
	if len(d.Backends) == 0 {
		errs = append(errs, errors.New("at least one backend is required"))
	}
	for _, name := range d.BackendNames() {
		if err := d.Backends[name].WithDefaults().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("backend %q: %w", name, err))
		}
	}
	switch d.AppMode() {
	case AppModeProcess:
		if _, ok := util.TrimEmptyCheck(d.App.Command); !ok {
			errs = append(errs, errors.New("app.command is required in process mode"))
		}
	case AppModeBuiltin:
	default:
		errs = append(errs, fmt.Errorf("invalid app.mode: %s (valid: process, builtin)", d.App.Mode))
	}
	if d.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("parallelism must not be negative: %d", d.Parallelism))
	}
	if _, err := fixture.ParseBoolMode(d.BoolMode); err != nil {
		errs = append(errs, err)
	}
	if len(d.Scenarios) == 0 {
		errs = append(errs, errors.New("at least one scenario is required"))
	}

	seen := map[string]bool{}
	for i, sc := range d.Scenarios {
		if seen[sc.Name] {
			errs = append(errs, fmt.Errorf("scenario %d: duplicate name %q", i+1, sc.Name))
		}
		seen[sc.Name] = true
		for _, b := range sc.Backends {
			if _, ok := d.Backends[b]; !ok {
				errs = append(errs, fmt.Errorf("scenario %q: unknown backend %q", sc.Name, b))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, name := range d.BackendNames() {
		if _, err := d.Scenarios(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BackendNames lists the configured backends in sorted order
func (d *Document) BackendNames() []string {
	names := make([]string, 0, len(d.Backends))
	for name := range d.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AppMode returns the effective application mode: process when a command is set,
// builtin otherwise
func (d *Document) AppMode() string {
	mode := util.TrimAndLower(d.App.Mode)
	if mode == "" {
		if _, ok := util.TrimEmptyCheck(d.App.Command); ok {
			return AppModeProcess
		}
		return AppModeBuiltin
	}
	return mode
}

// Scenarios builds the orchestrator scenarios that target backendName, in file order
func (d *Document) Scenarios(backendName string) ([]orchestrator.Scenario, error) {
	spec, ok := d.Backends[backendName]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (configured: %s)", backendName, strings.Join(d.BackendNames(), ", "))
	}
	suiteMode, err := fixture.ParseBoolMode(d.BoolMode)
	if err != nil {
		return nil, err
	}

	var out []orchestrator.Scenario
	for _, sc := range d.Scenarios {
		if len(sc.Backends) > 0 && !contains(sc.Backends, backendName) {
			continue
		}
		mode := suiteMode
		if sc.BoolMode != "" {
			if mode, err = fixture.ParseBoolMode(sc.BoolMode); err != nil {
				return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
			}
		}
		requestTimeout := sc.RequestTimeout
		if requestTimeout == 0 {
			requestTimeout = d.RequestTimeout
		}
		s := orchestrator.Scenario{
			Name:              sc.Name,
			BackendName:       backendName,
			Backend:           spec,
			Config:            sc.Config,
			Requests:          sc.Requests,
			Assertions:        sc.Assertions,
			BoolMode:          mode,
			Labels:            sc.Labels,
			RequireContinuity: sc.RequireContinuity,
			Timeout:           sc.Timeout,
			RequestTimeout:    requestTimeout,
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("backend %q: %w", backendName, err)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no scenarios target backend %q", backendName)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
