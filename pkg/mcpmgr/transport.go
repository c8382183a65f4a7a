package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport opens live connections to a single tool server. Process and
// socket servers each have one implementation, chosen once from the config.
type Transport interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is an initialized channel to a tool server.
type Conn interface {
	// CallTool sends one tools/call request and waits for its response.
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	// ListTools returns every tool the server advertises.
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	// Close releases the channel and, for owned processes, terminates them.
	Close(ctx context.Context) error
	// Done is closed once the channel is gone, whatever the reason.
	Done() <-chan struct{}
	// Diagnostics describes the process behind the channel, if any.
	Diagnostics() ConnDiagnostics
}

// ConnDiagnostics carries process details for status reporting.
type ConnDiagnostics struct {
	PID      int
	ExitCode int
	Exited   bool
}

const closeSettleDelay = 100 * time.Millisecond

// transportEnv is what a transport needs from its Manager.
type transportEnv struct {
	serverID  string
	impl      *mcp.Implementation
	logger    *slog.Logger
	rpcLogger RPCLogger
	onStderr  func(serverID, line string)
	grace     time.Duration
}

func newTransport(cfg ServerConfig, env transportEnv) (Transport, error) {
	switch c := cfg.(type) {
	case *ProcessServerConfig:
		return &processTransport{cfg: c, env: env}, nil
	case *SocketServerConfig:
		return &socketTransport{cfg: c, env: env}, nil
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported config for %q", env.serverID)
	}
}

// sessionConn is the Conn shared by both transports: an MCP client session
// plus, when the manager spawned something, the child process.
type sessionConn struct {
	serverID string
	session  *mcp.ClientSession
	child    *childProcess
	grace    time.Duration

	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	cause error
}

// connectSession runs the initialize handshake over transport. The handshake
// is abandoned when ctx ends; abort must then close the raw channel so the
// session's reader and cleanup can finish.
func connectSession(ctx context.Context, env transportEnv, transport mcp.Transport, child *childProcess, abort func()) (*sessionConn, error) {
	if env.rpcLogger != nil {
		transport = &loggingTransport{serverID: env.serverID, delegate: transport, logger: env.rpcLogger}
	}
	client := mcp.NewClient(env.impl, nil)

	type handshake struct {
		session *mcp.ClientSession
		err     error
	}
	ch := make(chan handshake, 1)
	go func() {
		session, err := client.Connect(ctx, transport, nil)
		ch <- handshake{session: session, err: err}
	}()

	var session *mcp.ClientSession
	select {
	case h := <-ch:
		if h.err != nil {
			return nil, h.err
		}
		session = h.session
	case <-ctx.Done():
		abort()
		go func() {
			if h := <-ch; h.session != nil {
				_ = h.session.Close()
			}
		}()
		return nil, fmt.Errorf("handshake not answered: %w", ctx.Err())
	}

	c := &sessionConn{
		serverID: env.serverID,
		session:  session,
		child:    child,
		grace:    env.grace,
		done:     make(chan struct{}),
	}
	go c.watchSession()
	if child != nil {
		go c.watchChild()
	}
	return c, nil
}

func (c *sessionConn) watchSession() {
	err := c.session.Wait()
	if err == nil {
		err = io.EOF
	}
	c.markClosed(fmt.Errorf("session ended: %w", err))
}

func (c *sessionConn) watchChild() {
	<-c.child.exited
	c.markClosed(fmt.Errorf("process exited with code %d", c.child.diagnostics().ExitCode))
	// The session may still be blocked on a pipe the dead child never closed.
	_ = c.session.Close()
}

func (c *sessionConn) markClosed(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.cause = cause
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *sessionConn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Errorf("%w: %v", ErrTransportClosed, c.cause)
}

func (c *sessionConn) Done() <-chan struct{} { return c.done }

func (c *sessionConn) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	select {
	case <-c.done:
		return nil, c.closedErr()
	default:
	}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type reply struct {
		res *mcp.CallToolResult
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		res, err := c.session.CallTool(callCtx, params)
		ch <- reply{res: res, err: err}
	}()
	select {
	case r := <-ch:
		if r.err == nil || ctx.Err() != nil {
			return r.res, r.err
		}
		if isRemoteError(r.err) {
			return nil, r.err
		}
		if isClosedErr(r.err) || c.settlesClosed() {
			return nil, c.closedErr()
		}
		return nil, r.err
	case <-c.done:
		return nil, c.closedErr()
	}
}

// settlesClosed reports whether the conn closes shortly after a failed
// request. A dying peer can fail pending requests a moment before the
// session or process watcher notices.
func (c *sessionConn) settlesClosed() bool {
	timer := time.NewTimer(closeSettleDelay)
	defer timer.Stop()
	select {
	case <-c.done:
		return true
	case <-timer.C:
		return false
	}
}

func (c *sessionConn) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var (
		tools  []*mcp.Tool
		cursor string
	)
	for {
		res, err := c.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			if c.isDone() {
				return nil, c.closedErr()
			}
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

func (c *sessionConn) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	wasDone := c.isDone()
	done := make(chan error, 1)
	go func() {
		done <- c.session.Close()
	}()
	var errs []error
	select {
	case err := <-done:
		if err != nil && !wasDone && !isClosedErr(err) {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("close session: %w", ctx.Err()))
	}
	if c.child != nil {
		if err := c.child.terminate(ctx, c.grace); err != nil {
			errs = append(errs, err)
		}
	}
	c.markClosed(errors.New("closed by client"))
	return errors.Join(errs...)
}

func (c *sessionConn) Diagnostics() ConnDiagnostics {
	if c.child == nil {
		return ConnDiagnostics{ExitCode: -1}
	}
	return c.child.diagnostics()
}

func (c *sessionConn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// isRemoteError reports whether err carries a JSON-RPC error object sent by
// the server. Its concrete type is internal to the SDK, so it is matched by
// shape: an error that compares by code and encodes as {"code", "message"}.
func isRemoteError(err error) bool {
	var wire interface{ Is(error) bool }
	if !errors.As(err, &wire) {
		return false
	}
	data, mErr := json.Marshal(wire)
	if mErr != nil {
		return false
	}
	var shape struct {
		Code    *int64  `json:"code"`
		Message *string `json:"message"`
	}
	return json.Unmarshal(data, &shape) == nil && shape.Code != nil && shape.Message != nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, mcp.ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}
