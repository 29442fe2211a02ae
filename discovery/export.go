package discovery

import (
	"fmt"
	"path"
	"strings"

	"github.com/jonwraymond/codemode/registry"
	"go.starlark.net/syntax"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// IndexFile is the name of the listing file in every directory.
	IndexFile = "INDEX.md"

	// StubExt is the extension of tool stub files.
	StubExt = ".star"
)

// Export renders snap into a tree. Servers and tools keep snapshot order.
func Export(snap *registry.Snapshot) *Tree {
	t := newTree()
	t.add(Node{Kind: KindRoot, Path: "/", Name: "/"})

	type serverEntry struct {
		name  string
		tools []registry.ToolDescriptor
	}
	var servers []serverEntry
	for _, name := range snap.Servers() {
		tools, err := snap.Tools(name)
		if err != nil {
			continue
		}
		servers = append(servers, serverEntry{name: name, tools: tools})
	}

	var root strings.Builder
	root.WriteString("# Tool Servers\n\n")
	if len(servers) == 0 {
		root.WriteString("No servers available.\n")
	}
	for _, s := range servers {
		fmt.Fprintf(&root, "- **%s** (%s): /%s/%s\n", s.name, plural(len(s.tools), "tool"), s.name, IndexFile)
	}
	t.add(Node{Kind: KindFile, Path: "/" + IndexFile, Name: IndexFile, Content: []byte(root.String())})

	for _, s := range servers {
		dir := "/" + s.name
		t.add(Node{Kind: KindServer, Path: dir, Name: s.name, Server: s.name})
		t.add(Node{
			Kind:    KindFile,
			Path:    path.Join(dir, IndexFile),
			Name:    IndexFile,
			Server:  s.name,
			Content: serverIndex(s.name, s.tools),
		})
		for _, d := range s.tools {
			name := d.Name + StubExt
			t.add(Node{
				Kind:    KindTool,
				Path:    path.Join(dir, name),
				Name:    name,
				Server:  s.name,
				Tool:    d.Name,
				Content: Stub(d),
			})
		}
	}

	t.seal()
	return t
}

func serverIndex(server string, tools []registry.ToolDescriptor) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Server Tools\n\n", cases.Title(language.Und).String(server))
	if len(tools) == 0 {
		b.WriteString("No tools available.\n")
	}
	for _, d := range tools {
		summary := d.Summary()
		if summary == "" {
			summary = "No description."
		}
		fmt.Fprintf(&b, "- **%s**: %s\n", d.Name, summary)
	}
	return []byte(b.String())
}

// Stub renders the Starlark source of a tool's callable wrapper. The
// function forwards its keyword arguments to call_tool.
func Stub(d registry.ToolDescriptor) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Tool stub: %s/%s\n\n", d.Server, d.Name)
	fmt.Fprintf(&b, "def %s(**kwargs):\n", FuncName(d.Name))
	b.WriteString("    \"\"\"")
	desc := d.Description
	if desc == "" {
		desc = "No description provided."
	}
	for i, line := range strings.Split(desc, "\n") {
		if i > 0 {
			b.WriteString("\n")
			if strings.TrimSpace(line) != "" {
				b.WriteString("    ")
			}
		}
		b.WriteString(docEscape(strings.TrimRight(line, " \t")))
	}
	b.WriteString("\n\n    Parameters:\n")
	if len(d.Params) == 0 {
		b.WriteString("        No parameters.\n")
	}
	for _, p := range d.Params {
		req := "optional"
		if p.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "        %s (%s, %s)", p.Name, p.Type, req)
		if p.Description != "" {
			b.WriteString(": " + docEscape(firstLine(p.Description)))
		}
		b.WriteString("\n")
	}
	b.WriteString("    \"\"\"\n")
	fmt.Fprintf(&b, "    return call_tool(%s, %s, kwargs)\n", syntax.Quote(d.Server, false), syntax.Quote(d.Name, false))
	return []byte(b.String())
}

// FuncName maps a tool name to a Starlark identifier.
func FuncName(tool string) string {
	var b strings.Builder
	for i, r := range tool {
		switch {
		case r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z'):
			b.WriteRune(r)
		case '0' <= r && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		return "_"
	}
	if starlarkKeywords[name] {
		name += "_"
	}
	return name
}

var starlarkKeywords = map[string]bool{
	"and": true, "break": true, "continue": true, "def": true, "elif": true,
	"else": true, "for": true, "if": true, "in": true, "lambda": true,
	"load": true, "not": true, "or": true, "pass": true, "return": true,
	"while": true, "None": true, "True": true, "False": true,
	"as": true, "assert": true, "async": true, "await": true, "class": true,
	"del": true, "except": true, "finally": true, "from": true, "global": true,
	"import": true, "is": true, "nonlocal": true, "raise": true, "try": true,
	"with": true, "yield": true,
}

func docEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
