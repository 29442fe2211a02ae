package starlark

import (
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/starlark"

	"github.com/jonwraymond/codemode/runtime"
)

var (
	importLine = regexp.MustCompile(`^(\s*)import\s+(.+)$`)
	fromLine   = regexp.MustCompile(`^(\s*)from\s+([\w.]+)\s+import\s+(.+)$`)
)

// rewriteImports checks Python-style import lines against the allow-list
// before anything is parsed. Forbidden modules are reported as sandbox
// violations; allowed ones are rewritten to load statements on the same
// line so positions in later errors stay correct.
func rewriteImports(src string, allowed map[string]bool) (string, error) {
	lines := strings.Split(src, "\n")
	aliases := 0
	for i, line := range lines {
		code := line
		if j := strings.IndexByte(code, '#'); j >= 0 {
			code = code[:j]
		}
		code = strings.TrimRight(code, " \t\r")

		if m := fromLine.FindStringSubmatch(code); m != nil {
			module := m[2]
			if !allowed[module] {
				return "", violation(module, i+1, len(m[1])+1)
			}
			names := strings.Trim(strings.TrimSpace(m[3]), "()")
			specs := splitNames(names)
			if strings.Contains(names, "*") {
				var err error
				if specs, err = starImport(module, names, i+1, len(m[1])+1); err != nil {
					return "", err
				}
			}
			aliases++
			tmp := fmt.Sprintf("_mod%d", aliases)
			parts := []string{fmt.Sprintf("load(%q, %s=%q)", module, tmp, module)}
			for _, spec := range specs {
				parts = append(parts, fmt.Sprintf("%s = %s.%s", spec.alias, tmp, spec.name))
			}
			lines[i] = m[1] + strings.Join(parts, "; ")
			continue
		}

		if m := importLine.FindStringSubmatch(code); m != nil {
			specs := splitNames(m[2])
			for _, spec := range specs {
				if !allowed[spec.name] {
					return "", violation(spec.name, i+1, len(m[1])+1)
				}
			}
			parts := make([]string, 0, len(specs))
			for _, spec := range specs {
				if spec.alias == spec.name {
					parts = append(parts, fmt.Sprintf("load(%q, %q)", spec.name, spec.name))
				} else {
					parts = append(parts, fmt.Sprintf("load(%q, %s=%q)", spec.name, spec.alias, spec.name))
				}
			}
			lines[i] = m[1] + strings.Join(parts, "; ")
		}
	}
	return strings.Join(lines, "\n"), nil
}

// starImport expands "from m import *" into the module's public members.
// A star mixed with other names is a syntax error.
func starImport(module, names string, line, col int) ([]importSpec, error) {
	mod, ok := modules[module].(starlark.HasAttrs)
	if strings.TrimSpace(names) != "*" || !ok {
		return nil, &runtime.ScriptError{
			Kind:    runtime.ErrSyntax,
			Message: fmt.Sprintf("cannot import %s from %q; name the members to import", names, module),
			Line:    line,
			Column:  col,
			Module:  module,
		}
	}
	var specs []importSpec
	for _, name := range mod.AttrNames() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		specs = append(specs, importSpec{name: name, alias: name})
	}
	return specs, nil
}

type importSpec struct {
	name  string
	alias string
}

// splitNames parses "a, b as c" into import specs.
func splitNames(s string) []importSpec {
	var out []importSpec
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		switch {
		case len(fields) == 1:
			out = append(out, importSpec{name: fields[0], alias: fields[0]})
		case len(fields) == 3 && fields[1] == "as":
			out = append(out, importSpec{name: fields[0], alias: fields[2]})
		case len(fields) > 0:
			out = append(out, importSpec{name: strings.Join(fields, " "), alias: fields[0]})
		}
	}
	return out
}

func violation(module string, line, col int) error {
	return &runtime.ScriptError{
		Kind:    runtime.ErrSandboxViolation,
		Message: fmt.Sprintf("import of %q is not allowed", module),
		Line:    line,
		Column:  col,
		Module:  module,
	}
}
