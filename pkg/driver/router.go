package driver

import (
	"fmt"
	"strings"

	"hackohio/solverd/pkg/smt"
)

// RouterFunc renders the argv used to launch a solver flavor.
// The returned slice must include argv[0].
type RouterFunc func(flavor smt.Flavor) ([]string, error)

// DefaultRouter launches the flavor's executable with its built-in arguments.
func DefaultRouter(flavor smt.Flavor) ([]string, error) {
	exe := flavor.Executable()
	if exe == "" {
		return nil, fmt.Errorf("flavor %s has no executable", flavor)
	}
	return append([]string{exe}, flavor.Args()...), nil
}

// NewTemplateRouter creates a RouterFunc from argv templates keyed by flavor
// name ("z3", "cvc5", "bitwuzla", or a custom executable name). Flavors
// without a template fall back to DefaultRouter. The flavor's ExtraArgs are
// appended after the rendered template.
//
// Supported placeholders inside tokens:
//   - {executable}
//   - {flavor}
//   - {param:KEY}
//
// Unknown placeholders are left as-is.
func NewTemplateRouter(routes map[string][]string, params map[string]string) RouterFunc {
	return func(flavor smt.Flavor) ([]string, error) {
		key := flavor.Kind.String()
		if flavor.Kind == smt.KindCustom {
			key = flavor.Name
		}
		tmpl, ok := routes[key]
		if !ok {
			return DefaultRouter(flavor)
		}
		if len(tmpl) == 0 {
			return nil, fmt.Errorf("empty command template for %q", key)
		}
		out := make([]string, 0, len(tmpl)+len(flavor.ExtraArgs))
		for _, tok := range tmpl {
			out = append(out, expandToken(tok, flavor, params))
		}
		return append(out, flavor.ExtraArgs...), nil
	}
}

// expandToken substitutes placeholders in one left-to-right pass.
// Substituted values are copied verbatim and never rescanned.
func expandToken(tok string, flavor smt.Flavor, params map[string]string) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(tok, '{')
		if i < 0 {
			b.WriteString(tok)
			return b.String()
		}
		b.WriteString(tok[:i])
		tok = tok[i:]
		j := strings.IndexByte(tok, '}')
		if j < 0 {
			b.WriteString(tok) // unclosed; leave as-is
			return b.String()
		}
		switch name := tok[1:j]; {
		case name == "executable":
			b.WriteString(flavor.Executable())
		case name == "flavor":
			b.WriteString(flavor.Kind.String())
		case strings.HasPrefix(name, "param:") && !strings.Contains(name, "{"):
			b.WriteString(params[strings.TrimPrefix(name, "param:")])
		default:
			// Unknown placeholder: keep the brace and look for one further on.
			b.WriteByte('{')
			tok = tok[1:]
			continue
		}
		tok = tok[j+1:]
	}
}
