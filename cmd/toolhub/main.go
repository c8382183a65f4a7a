// Command toolhub loads a registry of tool servers and connects to them,
// calls tools, reports connection status, or serves every server's tools
// through one Streamable MCP gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpgateway "github.com/vikashloomba/mcp-tool-client-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
)

const usage = `usage: toolhub [flags] <command> [args]

commands:
  status                      connect every server, then print status as JSON
  connect-all                 connect every server and report per-server outcomes
  tools <server>              list the tools a server advertises
  call <server> <tool> [json] call a tool; json is an object of arguments
  serve                       expose all tools over a Streamable MCP gateway

flags:
`

type globalFlags struct {
	registry       string
	logLevel       string
	logFormat      string
	connectTimeout time.Duration
	callTimeout    time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("toolhub", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	var g globalFlags
	fs.StringVar(&g.registry, "registry", envOr("TOOLHUB_REGISTRY", "toolhub.yaml"), "path to the YAML server registry")
	fs.StringVar(&g.logLevel, "log-level", envOr("TOOLHUB_LOG_LEVEL", "info"), "trace, debug, info, warn or error")
	fs.StringVar(&g.logFormat, "log-format", "text", "text or json")
	fs.DurationVar(&g.connectTimeout, "connect-timeout", 0, "default connect timeout (0 keeps the built-in default)")
	fs.DurationVar(&g.callTimeout, "call-timeout", 0, "default call timeout (0 keeps the built-in default)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level, err := parseLogLevel(g.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := newLogger(stderr, level, g.logFormat)

	registry, err := mcpmgr.LoadRegistryFile(g.registry)
	if err != nil {
		logger.Error("load registry", "path", g.registry, "error", err)
		return 1
	}
	manager := mcpmgr.NewManager(registry, &mcpmgr.ManagerOptions{
		ClientName:     "toolhub",
		ConnectTimeout: g.connectTimeout,
		CallTimeout:    g.callTimeout,
		Logger:         logger,
		LogJSONRPC:     level <= levelTrace,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.DisconnectAll(shutdownCtx).Err(); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "status":
		manager.ConnectAll(ctx)
		return writeJSON(stdout, stderr, manager.Statuses())
	case "connect-all":
		return connectAll(ctx, manager, stdout)
	case "tools":
		return listTools(ctx, manager, rest, stdout, stderr)
	case "call":
		return callTool(ctx, manager, rest, stdout, stderr)
	case "serve":
		return serve(ctx, manager, logger, rest, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
}

func connectAll(ctx context.Context, manager *mcpmgr.Manager, stdout io.Writer) int {
	outcomes := manager.ConnectAll(ctx)
	for _, name := range manager.ServerNames() {
		if err := outcomes[name]; err != nil {
			fmt.Fprintf(stdout, "%-24s error      %v\n", name, err)
			continue
		}
		fmt.Fprintf(stdout, "%-24s connected\n", name)
	}
	if len(outcomes.Failed()) > 0 {
		return 1
	}
	return 0
}

func listTools(ctx context.Context, manager *mcpmgr.Manager, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: toolhub tools <server>")
		return 2
	}
	tools, err := manager.ListTools(ctx, args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, tool := range tools {
		fmt.Fprintf(stdout, "%-32s %s\n", tool.Name, tool.Description)
	}
	return 0
}

func callTool(ctx context.Context, manager *mcpmgr.Manager, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || len(args) > 3 {
		fmt.Fprintln(stderr, "usage: toolhub call <server> <tool> [json-arguments]")
		return 2
	}
	var toolArgs map[string]any
	if len(args) == 3 {
		if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
			fmt.Fprintf(stderr, "arguments must be a JSON object: %v\n", err)
			return 2
		}
	}
	res, err := manager.CallTool(ctx, args[0], args[1], toolArgs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		if mcpmgr.KindOf(err) == mcpmgr.KindConfig {
			return 2
		}
		return 1
	}
	if res.StructuredContent != nil {
		return writeJSON(stdout, stderr, res.StructuredContent)
	}
	fmt.Fprintln(stdout, mcpmgr.ResultText(res))
	return 0
}

func serve(ctx context.Context, manager *mcpmgr.Manager, logger *slog.Logger, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", ":8700", "listen address")
	path := fs.String("path", "/mcp", "Streamable MCP endpoint path")
	jsonResponse := fs.Bool("json-response", true, "answer POSTs with JSON instead of SSE streams")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	gateway, err := mcpgateway.NewGateway(manager, &mcpgateway.Options{
		Addr:        *addr,
		Path:        *path,
		AutoConnect: true,
		Streamable: mcp.StreamableHTTPOptions{
			JSONResponse: *jsonResponse,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("build gateway", "error", err)
		return 1
	}
	gwOptions := gateway.Options()
	logger.Info("gateway serving Streamable MCP", "addr", gwOptions.Addr, "path", gwOptions.Path, "tools", len(gateway.ToolNames()))
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway server stopped", "error", err)
		return 1
	}
	return 0
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
