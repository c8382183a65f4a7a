package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CallTool invokes toolName on serverID. An unregistered server fails before
// any I/O. A server that is not connected is connected first; if that fails
// the returned error wraps ErrUnavailable and the connection error. The call
// is bounded by ctx and the server's call timeout. CallTool never retries.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	cfg, ok := m.registry.Lookup(serverID)
	if !ok {
		return nil, newError(KindConfig, serverID, toolName, nil)
	}
	if toolName == "" {
		return nil, fmt.Errorf("mcpmgr: tool name is required for %q", serverID)
	}
	logger := m.options.Logger.With("server", serverID, "tool", toolName, "call_id", uuid.NewString())

	conn, err := m.connected(ctx, serverID)
	if err != nil {
		logger.Warn("tool call skipped, server unavailable", "error", err)
		return nil, newError(KindUnavailable, serverID, toolName, err)
	}

	callCtx, cancel := m.withCallTimeout(ctx, cfg)
	defer cancel()

	start := time.Now()
	res, err := conn.CallTool(callCtx, &mcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		err = classifyCallError(callCtx, serverID, toolName, err)
		logger.Warn("tool call failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	if res.IsError {
		err := newError(KindTool, serverID, toolName, errors.New(ResultText(res)))
		logger.Warn("tool reported failure", "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	logger.Info("tool call succeeded", "elapsed", time.Since(start))
	return res, nil
}

// ListTools returns the tools advertised by serverID, connecting first when
// needed.
func (m *Manager) ListTools(ctx context.Context, serverID string) ([]*mcp.Tool, error) {
	cfg, ok := m.registry.Lookup(serverID)
	if !ok {
		return nil, newError(KindConfig, serverID, "", nil)
	}
	conn, err := m.connected(ctx, serverID)
	if err != nil {
		return nil, newError(KindUnavailable, serverID, "", err)
	}
	callCtx, cancel := m.withCallTimeout(ctx, cfg)
	defer cancel()
	tools, err := conn.ListTools(callCtx)
	if err != nil {
		return nil, classifyCallError(callCtx, serverID, "", err)
	}
	return tools, nil
}

// withCallTimeout applies the server's call timeout unless ctx already has
// an earlier deadline.
func (m *Manager) withCallTimeout(ctx context.Context, cfg ServerConfig) (context.Context, context.CancelFunc) {
	timeout := cfg.base().CallTimeout
	if timeout <= 0 {
		timeout = m.options.CallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func classifyCallError(ctx context.Context, serverID, toolName string, err error) error {
	switch {
	case errors.Is(err, ErrTransportClosed):
		return newError(KindClosed, serverID, toolName, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(KindTimeout, serverID, toolName, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("mcpmgr: call %s/%s canceled: %w", serverID, toolName, err)
	case isClosedErr(err):
		return newError(KindClosed, serverID, toolName, err)
	default:
		return newError(KindTool, serverID, toolName, err)
	}
}

// ResultText joins the text content blocks of res.
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
