package mcpmgr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// The test binary doubles as a tool server: when helperModeEnv is set,
// TestMain serves MCP on stdin/stdout instead of running tests.
const (
	helperModeEnv   = "MCPMGR_HELPER_MODE"
	helperSpawnEnv  = "MCPMGR_HELPER_SPAWN_DIR"
	helperStderrEnv = "MCPMGR_HELPER_STDERR"
	helperAddrEnv   = "MCPMGR_HELPER_ADDR"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		os.Exit(runHelperServer(mode))
	}
	os.Exit(m.Run())
}

func runHelperServer(mode string) int {
	if dir := os.Getenv(helperSpawnEnv); dir != "" {
		_ = os.WriteFile(filepath.Join(dir, strconv.Itoa(os.Getpid())), nil, 0o644)
	}
	if line := os.Getenv(helperStderrEnv); line != "" {
		fmt.Fprintln(os.Stderr, line)
	}
	switch mode {
	case "hang":
		// Never answers the handshake.
		_, _ = io.Copy(io.Discard, os.Stdin)
		return 0
	case "stdio":
		if err := newHelperServer().Run(context.Background(), &mcp.StdioTransport{}); err != nil {
			return 1
		}
		return 0
	case "listen":
		if err := serveHelperTCP(os.Getenv(helperAddrEnv)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
		return 2
	}
}

// serveHelperTCP accepts connections on addr and serves one MCP session per
// connection until the process is killed.
func serveHelperTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server := newHelperServer()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if _, err := server.Connect(context.Background(), &mcp.IOTransport{Reader: conn, Writer: conn}, nil); err != nil {
			_ = conn.Close()
		}
	}
}

type echoArgs struct {
	Text string `json:"text"`
}

type sleepArgs struct {
	Millis int `json:"ms"`
}

type exitArgs struct {
	Code int `json:"code"`
}

type noArgs struct{}

func newHelperServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "mcpmgr-helper", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "echo", Description: "Echo the text argument"},
		func(ctx context.Context, req *mcp.CallToolRequest, args echoArgs) (*mcp.CallToolResult, any, error) {
			return textResult(args.Text), nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "fail", Description: "Always reports a tool failure"},
		func(ctx context.Context, req *mcp.CallToolRequest, args noArgs) (*mcp.CallToolResult, any, error) {
			res := textResult("boom")
			res.IsError = true
			return res, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "sleep", Description: "Sleep for ms milliseconds"},
		func(ctx context.Context, req *mcp.CallToolRequest, args sleepArgs) (*mcp.CallToolResult, any, error) {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Duration(args.Millis) * time.Millisecond):
			}
			return textResult("slept"), nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "exit_later", Description: "Reply, then exit with code"},
		func(ctx context.Context, req *mcp.CallToolRequest, args exitArgs) (*mcp.CallToolResult, any, error) {
			go func() {
				time.Sleep(100 * time.Millisecond)
				os.Exit(args.Code)
			}()
			return textResult("bye"), nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "crash", Description: "Exit without replying"},
		func(ctx context.Context, req *mcp.CallToolRequest, args noArgs) (*mcp.CallToolResult, any, error) {
			os.Exit(3)
			return nil, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "cwd", Description: "Report the working directory"},
		func(ctx context.Context, req *mcp.CallToolRequest, args noArgs) (*mcp.CallToolResult, any, error) {
			dir, err := os.Getwd()
			if err != nil {
				return nil, nil, err
			}
			return textResult(dir), nil, nil
		})
	return server
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// helperProcessConfig runs this test binary as a process tool server.
func helperProcessConfig(t *testing.T, name, mode string, env map[string]string) *ProcessServerConfig {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	merged := map[string]string{helperModeEnv: mode}
	maps.Copy(merged, env)
	return &ProcessServerConfig{
		BaseServerConfig: BaseServerConfig{
			Name:           name,
			ConnectTimeout: 10 * time.Second,
			CallTimeout:    10 * time.Second,
		},
		Command: exe,
		Args:    []string{"-test.run=^$"},
		Env:     merged,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(t *testing.T, opts *ManagerOptions, configs ...ServerConfig) *Manager {
	t.Helper()
	reg, err := NewRegistry(configs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if opts == nil {
		opts = &ManagerOptions{}
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.TerminateGrace == 0 {
		opts.TerminateGrace = time.Second
	}
	m := NewManager(reg, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.DisconnectAll(ctx)
	})
	return m
}

// waitForState polls until name reaches want or the deadline passes.
func waitForState(t *testing.T, m *Manager, name string, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := m.State(name); got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := m.State(name)
	t.Fatalf("state of %s = %s, want %s", name, got, want)
}

func countSpawns(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read spawn dir: %v", err)
	}
	return len(entries)
}
