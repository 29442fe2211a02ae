// Package mcpserver provides a backend.Backend that talks to an external
// Model Context Protocol server. Stdio servers are spawned from a command
// line; any other mcp.Transport can be supplied directly.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/toolfoundation/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ClientName is the implementation name announced to servers.
const ClientName = "codemode"

// ClientVersion is the implementation version announced to servers.
const ClientVersion = "v0.1.0"

// ErrNoTransport is returned when neither a command nor a transport is configured.
var ErrNoTransport = errors.New("mcp server has no command or transport")

// Config configures an MCP server backend.
type Config struct {
	// Name is the server name used in the registry and discovery tree.
	Name string

	// Command and Args spawn a stdio server (e.g. "uvx", ["mcp-server-time"]).
	Command string
	Args    []string

	// Env is appended to the current process environment for the child.
	Env map[string]string

	// Transport overrides Command. Used for in-memory servers.
	Transport mcp.Transport

	// Disabled keeps the server registered but unused.
	Disabled bool

	// Logger receives connection events. Nil means no logging.
	Logger *zap.Logger
}

// Backend is an MCP client session exposed as a backend.Backend.
type Backend struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

// New creates a backend for cfg. The server is not contacted until Start.
func New(cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{cfg: cfg, logger: logger.With(zap.String("server", cfg.Name))}
}

// Kind returns "mcp".
func (b *Backend) Kind() string { return "mcp" }

// Name returns the configured server name.
func (b *Backend) Name() string { return b.cfg.Name }

// Enabled reports whether the server is enabled.
func (b *Backend) Enabled() bool { return !b.cfg.Disabled }

// Start connects to the server. It is idempotent.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startLocked(ctx)
}

func (b *Backend) startLocked(ctx context.Context) error {
	if b.session != nil {
		return nil
	}
	transport, err := b.transport()
	if err != nil {
		return err
	}
	client := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: ClientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", backend.ErrServerUnavailable, b.cfg.Name, err)
	}
	b.session = session
	b.logger.Debug("connected to mcp server")
	return nil
}

func (b *Backend) transport() (mcp.Transport, error) {
	if b.cfg.Transport != nil {
		return b.cfg.Transport, nil
	}
	if b.cfg.Command == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, b.cfg.Name)
	}
	path, err := exec.LookPath(b.cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", backend.ErrServerUnavailable, b.cfg.Command, err)
	}
	cmd := exec.Command(path, b.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range b.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

// Stop closes the session.
func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	return err
}

// ListTools pages through the server's tool list, starting the session if needed.
func (b *Backend) ListTools(ctx context.Context) ([]model.Tool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.startLocked(ctx); err != nil {
		return nil, err
	}

	var out []model.Tool
	cursor := ""
	for {
		res, err := b.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("%w: list tools on %s: %v", backend.ErrServerUnavailable, b.cfg.Name, err)
		}
		for _, t := range res.Tools {
			if t == nil {
				continue
			}
			out = append(out, model.Tool{Tool: *t, Namespace: b.cfg.Name})
		}
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}

// Execute calls a tool. Calls on one session are serialized. A result
// flagged IsError is returned as an ErrToolFailed error carrying the text.
func (b *Backend) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	if b.cfg.Disabled {
		return nil, backend.ErrServerDisabled
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.startLocked(ctx); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := b.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: call %s/%s: %v", backend.ErrServerUnavailable, b.cfg.Name, tool, err)
	}
	text := ContentText(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("%w: %s/%s: %s", backend.ErrToolFailed, b.cfg.Name, tool, text)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return text, nil
}

// ContentText flattens result content into text, one item per line.
// Non-text items are rendered by type.
func ContentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.ImageContent:
			parts = append(parts, "[image "+v.MIMEType+"]")
		case *mcp.AudioContent:
			parts = append(parts, "[audio "+v.MIMEType+"]")
		default:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, "\n")
}
