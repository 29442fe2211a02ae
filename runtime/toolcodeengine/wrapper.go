package toolcodeengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"

	"github.com/jonwraymond/codemode/code"
	"github.com/jonwraymond/codemode/runtime"
)

// toolsGateway wraps code.Tools to implement runtime.ToolGateway.
type toolsGateway struct {
	tools code.Tools
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WrapTools wraps a code.Tools implementation to satisfy runtime.ToolGateway.
//
// Tool failures are handed to the snippet as an error value
// {"error": kind, "message": text} so the snippet can react to them. Limit
// violations and cancellation are returned as errors and abort the snippet.
func WrapTools(tools code.Tools) runtime.ToolGateway {
	return &toolsGateway{tools: tools}
}

// CallTool implements runtime.ToolGateway by delegating to the wrapped Tools.
func (g *toolsGateway) CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := g.tools.CallTool(ctx, server, tool, args)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, code.ErrResourceLimit):
		return nil, fmt.Errorf("%w: %w", runtime.ErrResourceLimit, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		return ErrorValue(err), nil
	}
}

// ErrorValue renders err the way a snippet sees a failed tool call.
func ErrorValue(err error) map[string]any {
	return map[string]any{
		"error":   string(code.Classify(err)),
		"message": err.Error(),
	}
}

// ListDir implements runtime.ToolGateway by delegating to the wrapped Tools.
func (g *toolsGateway) ListDir(ctx context.Context, path string) ([]string, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.tools.ListDir(ctx, path)
}

// ReadFile implements runtime.ToolGateway by delegating to the wrapped Tools.
func (g *toolsGateway) ReadFile(ctx context.Context, path string) (string, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.tools.ReadFile(ctx, path)
}

// SearchTools implements runtime.ToolGateway by delegating to the wrapped Tools.
func (g *toolsGateway) SearchTools(ctx context.Context, query string, limit int) ([]index.Summary, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.tools.SearchTools(ctx, query, limit)
}

// DescribeTool implements runtime.ToolGateway by delegating to the wrapped Tools.
func (g *toolsGateway) DescribeTool(ctx context.Context, id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return tooldoc.ToolDoc{}, err
	}
	return g.tools.DescribeTool(ctx, id, level)
}
