package starlark

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
)

type toolCall struct {
	server string
	tool   string
	args   map[string]any
}

// mockGateway serves a small discovery tree and a time tool.
type mockGateway struct {
	mu      sync.Mutex
	calls   []toolCall
	files   map[string]string
	callErr error
	results map[string]any
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		files: map[string]string{
			"/INDEX.md":           "# Tool Servers\n\n- **time** (1 tools): /time/INDEX.md\n",
			"/time/INDEX.md":      "# Time Server Tools\n\n- **get_time**: Get the current time.\n",
			"/time/get_time.star": "def get_time(**kwargs):\n    return call_tool(\"time\", \"get_time\", kwargs)\n",
		},
	}
}

func (g *mockGateway) CallTool(_ context.Context, server, tool string, args map[string]any) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, toolCall{server: server, tool: tool, args: args})
	if g.callErr != nil {
		return nil, g.callErr
	}
	if res, ok := g.results[server+":"+tool]; ok {
		return res, nil
	}
	city, _ := args["city"].(string)
	return fmt.Sprintf("12:00 in %s", city), nil
}

func (g *mockGateway) ListDir(_ context.Context, path string) ([]string, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := map[string]bool{}
	for p := range g.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = true
	}
	if len(seen) == 0 {
		return nil, &fs.PathError{Op: "ls", Path: path, Err: fs.ErrNotExist}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (g *mockGateway) ReadFile(_ context.Context, path string) (string, error) {
	content, ok := g.files[path]
	if !ok {
		return "", &fs.PathError{Op: "cat", Path: path, Err: fs.ErrNotExist}
	}
	return content, nil
}

func (g *mockGateway) SearchTools(_ context.Context, query string, limit int) ([]index.Summary, error) {
	if !strings.Contains("time get_time", query) {
		return nil, nil
	}
	return []index.Summary{{
		ID:               "time:get_time",
		Name:             "get_time",
		Namespace:        "time",
		ShortDescription: "Get the current time.",
		Tags:             []string{"clock"},
	}}, nil
}

func (g *mockGateway) DescribeTool(_ context.Context, id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	if id != "time:get_time" {
		return tooldoc.ToolDoc{}, fmt.Errorf("%w: %s", tooldoc.ErrNotFound, id)
	}
	doc := tooldoc.ToolDoc{Summary: "Get the current time."}
	if level == tooldoc.DetailFull {
		doc.Notes = "Parameters:\n- city (string, optional)"
	}
	return doc, nil
}

func (g *mockGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
