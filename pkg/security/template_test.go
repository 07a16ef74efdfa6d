package security

import (
	"errors"
	"strings"
	"testing"
)

func TestTemplateValidator_ValidateTemplate(t *testing.T) {
	validator := NewTemplateValidator()

	tests := []struct {
		name      string
		template  string
		errorType error
		errorText string
	}{
		{name: "plain text", template: "-S 127.0.0.1:8080"},
		{name: "literal path traversal is text", template: "-t ../htdocs"},
		{name: "env field", template: "127.0.0.1:{{.env.port}}"},
		{name: "whole env map", template: "{{len .env}}"},
		{name: "allowed functions", template: `{{printf "%s:%s" .env.host .env.port}}`},
		{name: "conditional", template: "{{if .env.binary}}-b{{else}}-t{{end}}"},
		{name: "index lookup", template: `{{index .env "config_dir"}}`},
		{name: "variables", template: "{{with $p := .env.port}}{{$p}}{{end}}"},
		{name: "unknown root", template: "{{.secrets.token}}", errorType: ErrDangerousAction},
		{name: "dot itself", template: "{{.}}"},
		{name: "field too deep", template: "{{.env.port.Value}}", errorType: ErrDangerousAction},
		{name: "unknown function", template: `{{call .env.fn}}`, errorType: ErrDangerousAction},
		{name: "template inclusion", template: `{{define "x"}}a{{end}}{{template "x"}}`, errorType: ErrDangerousAction},
		{name: "chained access", template: "{{(.env).port}}", errorType: ErrDangerousAction},
		{name: "sub pipeline checked", template: "{{printf \"%s\" (call .env.fn)}}", errorType: ErrDangerousAction},
		{name: "malformed", template: "{{.env.port", errorText: "template parse error"},
		{
			name:      "excessive depth",
			template:  strings.Repeat("{{if .env.a}}", 7) + "x" + strings.Repeat("{{end}}", 7),
			errorType: ErrExcessiveDepth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateTemplate(tt.template)
			switch {
			case tt.errorType != nil:
				if !errors.Is(err, tt.errorType) {
					t.Fatalf("ValidateTemplate(%q) = %v, want %v", tt.template, err, tt.errorType)
				}
			case tt.errorText != "":
				if err == nil || !strings.Contains(err.Error(), tt.errorText) {
					t.Fatalf("ValidateTemplate(%q) = %v, want %q", tt.template, err, tt.errorText)
				}
			default:
				if err != nil {
					t.Fatalf("ValidateTemplate(%q) unexpected error: %v", tt.template, err)
				}
			}
		})
	}
}

func TestTemplateValidator_CustomRoots(t *testing.T) {
	v := NewTemplateValidator()
	v.AllowedRoots["app"] = true
	if err := v.ValidateTemplate("{{.app.name}}"); err != nil {
		t.Fatalf("custom root rejected: %v", err)
	}
	if err := ValidateTemplate("{{.app.name}}"); !errors.Is(err, ErrDangerousAction) {
		t.Fatalf("default validator must not see custom roots: %v", err)
	}
}

func BenchmarkValidateTemplate(b *testing.B) {
	v := NewTemplateValidator()
	tmpl := "-S 127.0.0.1:{{.env.port}} -c {{.env.config_dir}}"
	for i := 0; i < b.N; i++ {
		_ = v.ValidateTemplate(tmpl)
	}
}
