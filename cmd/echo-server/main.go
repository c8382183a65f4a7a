// Command echo-server is a small tool server for trying out toolhub. It speaks
// MCP over stdin/stdout by default, or over TCP with -listen so it can be
// registered as a socket server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	listen := flag.String("listen", "", "serve over TCP on this address instead of stdio")
	name := flag.String("name", "echo-server", "server name reported during the handshake")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := newServer(*name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *listen == "" {
		err = server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
	} else {
		err = serveTCP(ctx, s, *listen, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newServer(name string) *server.MCPServer {
	s := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Return the text argument unchanged"),
			mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
		),
		handleEcho,
	)
	s.AddTool(
		mcp.NewTool("upper",
			mcp.WithDescription("Upper-case the text argument"),
			mcp.WithString("text", mcp.Required()),
		),
		handleUpper,
	)
	s.AddTool(
		mcp.NewTool("sleep",
			mcp.WithDescription("Wait for ms milliseconds, then reply"),
			mcp.WithNumber("ms", mcp.Required()),
		),
		handleSleep,
	)
	s.AddTool(
		mcp.NewTool("fail",
			mcp.WithDescription("Always report a tool failure"),
			mcp.WithString("reason"),
		),
		handleFail,
	)
	return s
}

func handleEcho(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := req.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text must be a string"), nil
	}
	return mcp.NewToolResultText(text), nil
}

func handleUpper(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := req.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text must be a string"), nil
	}
	return mcp.NewToolResultText(strings.ToUpper(text)), nil
}

func handleSleep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms, ok := req.GetArguments()["ms"].(float64)
	if !ok || ms < 0 {
		return mcp.NewToolResultError("ms must be a non-negative number"), nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
	}
	return mcp.NewToolResultText(fmt.Sprintf("slept %dms", int(ms))), nil
}

func handleFail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason, _ := req.GetArguments()["reason"].(string)
	if reason == "" {
		reason = "requested failure"
	}
	return mcp.NewToolResultError(reason), nil
}

// serveTCP runs one stdio-style session per accepted connection.
func serveTCP(ctx context.Context, s *server.MCPServer, addr string, logger *slog.Logger) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("listening", "addr", ln.Addr().String())
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		logger.Info("client connected", "remote", conn.RemoteAddr().String())
		go func() {
			defer conn.Close()
			if err := server.NewStdioServer(s).Listen(ctx, conn, conn); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("session ended", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}
