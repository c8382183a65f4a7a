package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that fronts the tools of every
// server managed by an mcpmgr.Manager under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	tools *toolIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway and synchronizes the initial tool snapshot.
// Servers that cannot be reached yet are logged and skipped; SyncServer picks
// them up later.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.Path == options.StatusPath {
		return nil, fmt.Errorf("mcpgateway: MCP path and status path are both %q", options.Path)
	}
	g := &Gateway{
		manager: mgr,
		opts:    options,
		tools:   newToolIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()
	g.httpHandler = cors.New(cors.Options{
		AllowedOrigins: options.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(g.mux)

	ctx := context.Background()
	if options.AutoConnect {
		if err := mgr.ConnectAll(ctx).Err(); err != nil {
			options.Logger.Warn("autoconnect incomplete", "error", err)
		}
	}
	if err := g.SyncAll(ctx); err != nil {
		options.Logger.Warn("initial tool sync incomplete", "error", err)
	}
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint and
// the status endpoint, wrapped with CORS.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// Options returns the effective options after defaults were applied.
func (g *Gateway) Options() Options {
	return g.opts
}

// ServeMux exposes the underlying mux so callers can mount extra routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// SyncAll refreshes the tools of every registered server and joins the
// failures.
func (g *Gateway) SyncAll(ctx context.Context) error {
	var errs []error
	for _, serverID := range g.manager.ServerNames() {
		if err := g.SyncServer(ctx, serverID); err != nil {
			errs = append(errs, err)
			g.logError("sync server", err, "server", serverID)
		}
	}
	return errors.Join(errs...)
}

// SyncServer refreshes one server's tools. ListTools connects the server
// when needed.
func (g *Gateway) SyncServer(ctx context.Context, serverID string) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	upstream, err := g.manager.ListTools(ctx, serverID)
	if err != nil {
		return err
	}
	removed, added := g.tools.Update(serverID, upstream)
	g.serverMu.Lock()
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	g.serverMu.Unlock()
	g.opts.Logger.Info("synced tools", "server", serverID, "tools", len(added))
	return nil
}

// ToolNames returns the downstream names of every proxied tool, sorted.
func (g *Gateway) ToolNames() []string {
	return g.tools.Names()
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, fmt.Errorf("mcpgateway: arguments for %s must be an object: %w", target.GatewayName, err)
			}
		}
		res, err := g.manager.CallTool(ctx, target.ServerID, target.NativeName, args)
		if err == nil {
			return res, nil
		}
		// Failures reported by the tool itself stay tool results so the
		// downstream model can see them.
		if mcpmgr.KindOf(err) == mcpmgr.KindTool {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return nil, err
	}
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := struct {
		Servers []mcpmgr.ServerStatus `json:"servers"`
		Tools   []string              `json:"tools"`
	}{
		Servers: g.manager.Statuses(),
		Tools:   g.ToolNames(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logError("write status", err)
	}
}

func (g *Gateway) mountHandler() *http.ServeMux {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux := http.NewServeMux()
	mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", g.streamHandler)
	}
	statusPath := g.opts.StatusPath
	if !strings.HasPrefix(statusPath, "/") {
		statusPath = "/" + statusPath
	}
	mux.HandleFunc(statusPath, g.handleStatus)
	return mux
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
