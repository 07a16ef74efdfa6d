package env

import "testing"

// FuzzRenderGoTemplate fuzzes the template renderer to ensure it never panics
// on arbitrary inputs and always returns a string (may be identical to input).
func FuzzRenderGoTemplate(f *testing.F) {
	f.Add("")
	f.Add("plain text")
	f.Add("127.0.0.1:{{.env.port}}")
	f.Add("{{.env.MISSING}") // malformed template
	f.Add("{{.env.a}}{{.env.b}}{{.env.c}}")

	e := &Env{Global: Map{"port": "8080", "a": "1", "b": "2"}, Local: Map{"c": "3"}}
	f.Fuzz(func(t *testing.T, s string) {
		_ = e.RenderGoTemplate(s)
	})
}
