// Package template implements placeholder substitution for definition files.
//
// Placeholders take the form $name or ${name}. Substitution is a single
// pass: values are inserted verbatim and never re-expanded, and unknown
// placeholders are preserved so that downstream tooling can see them.
package template

import "regexp"

// placeholder matches $$, $name and ${name}.
var placeholder = regexp.MustCompile(`\$(\$|[A-Za-z_][A-Za-z0-9_]*|\{[A-Za-z_][A-Za-z0-9_]*\})`)

// Engine applies layered variable substitution. The global layer is fixed at
// construction; per-container and per-invocation layers are supplied on each
// call. Precedence, highest first: invocation, container, global.
type Engine struct {
	globals map[string]string
}

// New creates an Engine with the given global variables. A nil map is
// treated as empty.
func New(globals map[string]string) *Engine {
	if globals == nil {
		globals = map[string]string{}
	}
	return &Engine{globals: globals}
}

// Apply substitutes placeholders in text. containerVars and rpcVars may be
// nil. $$ escapes to a literal $.
func (e *Engine) Apply(text string, containerVars, rpcVars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1:]
		if name == "$" {
			return "$"
		}
		if name[0] == '{' {
			name = name[1 : len(name)-1]
		}
		if v, ok := rpcVars[name]; ok {
			return v
		}
		if v, ok := containerVars[name]; ok {
			return v
		}
		if v, ok := e.globals[name]; ok {
			return v
		}
		return match
	})
}
