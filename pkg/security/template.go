// Package security vets the Go templates rendered into launch commands, arguments and
// environment before they are executed.
package security

import (
	"errors"
	"fmt"
	"text/template/parse"
)

var (
	ErrDangerousAction = errors.New("template contains dangerous action")
	ErrExcessiveDepth  = errors.New("template depth exceeds maximum allowed")
)

// TemplateValidator restricts templates to reading whitelisted root fields and calling
// whitelisted functions
type TemplateValidator struct {
	// MaxDepth limits nesting of if/range/with blocks and sub-pipelines
	MaxDepth int
	// AllowedFunctions are the identifiers a template may call
	AllowedFunctions map[string]bool
	// AllowedRoots are the top-level fields a template may read, e.g. env in {{.env.port}}
	AllowedRoots map[string]bool
}

// NewTemplateValidator allows the env root and the side-effect free builtins
func NewTemplateValidator() *TemplateValidator {
	allowed := map[string]bool{}
	for _, fn := range []string{"printf", "print", "len", "index", "eq", "ne", "lt", "le", "gt", "ge", "and", "or", "not"} {
		allowed[fn] = true
	}
	return &TemplateValidator{
		MaxDepth:         5,
		AllowedFunctions: allowed,
		AllowedRoots:     map[string]bool{"env": true},
	}
}

var defaultValidator = NewTemplateValidator()

// ValidateTemplate checks s with the default validator
func ValidateTemplate(s string) error {
	return defaultValidator.ValidateTemplate(s)
}

// ValidateTemplate parses s and walks every action. Literal text is never inspected, so
// arguments such as paths may contain anything outside {{ }}.
func (v *TemplateValidator) ValidateTemplate(s string) error {
	if s == "" {
		return nil
	}
	tr := parse.New("validator")
	tr.Mode = parse.SkipFuncCheck
	if _, err := tr.Parse(s, "{{", "}}", map[string]*parse.Tree{}); err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}
	if tr.Root == nil {
		return nil
	}
	return v.list(tr.Root, 0)
}

func (v *TemplateValidator) list(l *parse.ListNode, depth int) error {
	if l == nil {
		return nil
	}
	if depth > v.MaxDepth {
		return ErrExcessiveDepth
	}
	for _, n := range l.Nodes {
		if err := v.node(n, depth); err != nil {
			return err
		}
	}
	return nil
}

func (v *TemplateValidator) node(n parse.Node, depth int) error {
	switch n := n.(type) {
	case *parse.ActionNode:
		return v.pipe(n.Pipe, depth)
	case *parse.IfNode:
		return v.branch(&n.BranchNode, depth)
	case *parse.RangeNode:
		return v.branch(&n.BranchNode, depth)
	case *parse.WithNode:
		return v.branch(&n.BranchNode, depth)
	case *parse.TemplateNode:
		return fmt.Errorf("%w: template inclusion %q", ErrDangerousAction, n.Name)
	case *parse.ListNode:
		return v.list(n, depth)
	}
	return nil
}

func (v *TemplateValidator) branch(b *parse.BranchNode, depth int) error {
	if err := v.pipe(b.Pipe, depth+1); err != nil {
		return err
	}
	if err := v.list(b.List, depth+1); err != nil {
		return err
	}
	return v.list(b.ElseList, depth+1)
}

func (v *TemplateValidator) pipe(p *parse.PipeNode, depth int) error {
	if p == nil {
		return nil
	}
	if depth > v.MaxDepth {
		return ErrExcessiveDepth
	}
	for _, cmd := range p.Cmds {
		for _, arg := range cmd.Args {
			if err := v.arg(arg, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *TemplateValidator) arg(n parse.Node, depth int) error {
	switch a := n.(type) {
	case *parse.IdentifierNode:
		if !v.AllowedFunctions[a.Ident] {
			return fmt.Errorf("%w: function %q is not allowed", ErrDangerousAction, a.Ident)
		}
	case *parse.FieldNode:
		if !v.AllowedRoots[a.Ident[0]] {
			return fmt.Errorf("%w: field %q is not allowed", ErrDangerousAction, "."+a.Ident[0])
		}
		if len(a.Ident) > 2 {
			return fmt.Errorf("%w: field %q is too deep", ErrDangerousAction, a.String())
		}
	case *parse.ChainNode:
		return fmt.Errorf("%w: chained access %q", ErrDangerousAction, a.String())
	case *parse.PipeNode:
		return v.pipe(a, depth+1)
	}
	return nil
}
