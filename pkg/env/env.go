package env

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/loykin/sessprobe/pkg/security"
	"gopkg.in/yaml.v3"
)

// Map holds template variables by name
type Map map[string]string

// New returns a pointer to Env with all internal maps initialized.
func New() *Env {
	return &Env{Global: Map{}, Local: Map{}}
}

// Env supports layered variables:
// - Global: variables from the suite file (apply to the whole run)
// - Local: variables computed per launch (port, config_dir, base_url)
// Lookup and rendering give precedence to Local over Global.
// Note: zero values (nil maps) are handled gracefully.
type Env struct {
	mu     sync.RWMutex
	Global Map `yaml:"-" json:"-" mapstructure:"-"`
	Local  Map `yaml:"-" json:"env" mapstructure:"env"`
}

// UnmarshalYAML allows decoding a plain mapping under the `env` key directly into Global.
func (e *Env) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return err
	}
	e.Global = m
	return nil
}

// Clone performs a copy of the Env maps.
func (e *Env) Clone() *Env {
	out := New()
	if e == nil {
		return out
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for k, v := range e.Global {
		out.Global[k] = v
	}
	for k, v := range e.Local {
		out.Local[k] = v
	}
	return out
}

// With returns a clone whose Local layer additionally holds the given pairs
func (e *Env) With(pairs map[string]string) *Env {
	out := e.Clone()
	for k, v := range pairs {
		out.Local[k] = v
	}
	return out
}

// Set stores a value in the Local layer
func (e *Env) Set(key, val string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Local == nil {
		e.Local = Map{}
	}
	e.Local[key] = val
}

// merged returns a combined map (Global then overridden by Local).
func (e *Env) merged() map[string]string {
	m := map[string]string{}
	if e == nil {
		return m
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for k, v := range e.Global {
		m[k] = v
	}
	for k, v := range e.Local {
		m[k] = v
	}
	return m
}

// Lookup searches Local first, then Global.
func (e *Env) Lookup(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.Local[key]; ok {
		return v, true
	}
	if v, ok := e.Global[key]; ok {
		return v, true
	}
	return "", false
}

// Environ renders the merged map as sorted KEY=value pairs with the given prefix
// applied to upper-cased keys, suitable for exec.Cmd.Env.
func (e *Env) Environ(prefix string) []string {
	m := e.merged()
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, prefix+strings.ToUpper(k)+"="+v)
	}
	sort.Strings(out)
	return out
}

// RenderGoTemplate renders strings like {{.env.port}} with text/template.
// Rendered values end up in argv and ini files, never in HTML, so no escaping is applied.
// Missing keys keep the original string unchanged.
func (e *Env) RenderGoTemplate(s string) string {
	out, err := e.RenderGoTemplateErr(s)
	if err != nil {
		return s
	}
	return out
}

// RenderGoTemplateErr behaves like RenderGoTemplate but returns an error when
// the template is rejected by the validator, cannot be parsed or cannot be executed
// (including missing keys due to missingkey=error).
func (e *Env) RenderGoTemplateErr(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	if err := security.ValidateTemplate(s); err != nil {
		return "", err
	}
	t, err := template.New("gotmpl").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]interface{}{"env": e.merged()}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
