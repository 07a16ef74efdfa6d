package common

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// MaskedValue replaces sensitive values in log output
const MaskedValue = "***MASKED***"

// MaskRule hides a credential. Keys mask a whole attribute by name; Pattern rewrites the
// credential inside a larger string such as a save path or an ini line.
type MaskRule struct {
	Name        string
	Keys        []string
	Pattern     *regexp.Regexp
	Replacement string
}

// DefaultMaskRules cover the credentials that travel through session configuration
var DefaultMaskRules = []MaskRule{
	{
		Name:        "password",
		Keys:        []string{"password", "passwd", "sasl_pass", "sasl_password"},
		Pattern:     regexp.MustCompile(`(?i)\b((?:memcached\.|redis\.)?(?:sess_)?(?:sasl_)?pass(?:word|wd)?\s*[:=]\s*"?)([^"\s,&;]+)`),
		Replacement: "${1}" + MaskedValue,
	},
	{
		// phpredis save paths: tcp://host:6379?auth=secret
		Name:        "redis_auth",
		Keys:        []string{"auth"},
		Pattern:     regexp.MustCompile(`([?&]auth=)([^&\s"']+)`),
		Replacement: "${1}" + MaskedValue,
	},
	{
		Name:        "url_userinfo",
		Pattern:     regexp.MustCompile(`(://[^:/@\s]+:)([^@\s/]+)(@)`),
		Replacement: "${1}" + MaskedValue + "${3}",
	},
}

// Masker applies mask rules while enabled
type Masker struct {
	mu      sync.RWMutex
	rules   []MaskRule
	keys    map[string]bool
	enabled bool
}

// NewMasker returns an enabled masker with rules, or DefaultMaskRules when none are given
func NewMasker(rules ...MaskRule) *Masker {
	if len(rules) == 0 {
		rules = DefaultMaskRules
	}
	m := &Masker{keys: map[string]bool{}, enabled: true}
	for _, r := range rules {
		m.AddRule(r)
	}
	return m
}

// AddRule registers another rule
func (m *Masker) AddRule(r MaskRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
	for _, k := range r.Keys {
		m.keys[strings.ToLower(k)] = true
	}
}

// SetEnabled turns masking on or off
func (m *Masker) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// Enabled reports whether masking is on
func (m *Masker) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// MaskString rewrites every credential the rules recognise in s
func (m *Masker) MaskString(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return s
	}
	for _, r := range m.rules {
		if r.Pattern != nil {
			s = r.Pattern.ReplaceAllString(s, r.Replacement)
		}
	}
	return s
}

// SensitiveKey reports whether an attribute named key is always masked
func (m *Masker) SensitiveKey(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled && m.keys[strings.ToLower(key)]
}

// MaskAttr masks a log attribute. Strings and errors are scanned; other kinds are only
// masked when the key itself is sensitive.
func (m *Masker) MaskAttr(a slog.Attr) slog.Attr {
	if !m.Enabled() {
		return a
	}
	if m.SensitiveKey(a.Key) {
		return slog.String(a.Key, MaskedValue)
	}
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); s != "" {
			if masked := m.MaskString(s); masked != s {
				return slog.String(a.Key, masked)
			}
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			if masked := m.MaskString(err.Error()); masked != err.Error() {
				return slog.String(a.Key, masked)
			}
		}
	}
	return a
}

var globalMasker = NewMasker()

// MaskSensitiveData masks s with the process masker
func MaskSensitiveData(s string) string {
	return globalMasker.MaskString(s)
}

// EnableMasking turns the process masker on or off
func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}

// IsMaskingEnabled reports whether the process masker is on
func IsMaskingEnabled() bool {
	return globalMasker.Enabled()
}
