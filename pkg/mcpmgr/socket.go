package mcpmgr

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Redial schedule used after a launch command has been started.
const (
	launchInitialDelay = 100 * time.Millisecond
	launchMaxDelay     = 2 * time.Second
	launchMultiplier   = 2
)

// socketTransport dials a tool server that is already listening on TCP.
type socketTransport struct {
	cfg *SocketServerConfig
	env transportEnv
}

func (t *socketTransport) Open(ctx context.Context) (Conn, error) {
	addr := t.cfg.Address()
	netConn, err := dialTCP(ctx, addr)
	var child *childProcess
	if err != nil && t.cfg.Launch != nil && ctx.Err() == nil {
		t.env.logger.Info("tool server not listening, launching",
			"server", t.env.serverID,
			"address", addr,
			"command", t.cfg.Launch.Command,
		)
		child, err = t.launch()
		if err != nil {
			return nil, err
		}
		netConn, err = dialWithBackoff(ctx, addr, child)
		if err != nil {
			_ = child.terminate(context.Background(), t.env.grace)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	transport := &mcp.IOTransport{Reader: netConn, Writer: nopWriteCloser{netConn}}
	conn, err := connectSession(ctx, t.env, transport, child, func() { _ = netConn.Close() })
	if err != nil {
		_ = netConn.Close()
		if child != nil {
			_ = child.terminate(context.Background(), t.env.grace)
		}
		return nil, fmt.Errorf("initialize %s: %w", addr, err)
	}
	t.env.logger.Info("tool server socket connected", "server", t.env.serverID, "address", addr)
	return conn, nil
}

func (t *socketTransport) launch() (*childProcess, error) {
	l := t.cfg.Launch
	cmd := buildCommand(l.Command, l.Args, l.Dir, l.Env)
	cmd.Stdout = newProcessLogger(t.env.logger, t.env.serverID, "stdout")
	cmd.Stderr = newLineWriter(func(line string) {
		t.env.logger.Warn("tool server stderr", "server", t.env.serverID, "line", line)
		if t.env.onStderr != nil {
			t.env.onStderr(t.env.serverID, line)
		}
	})
	return startChild(cmd, t.env.grace)
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// dialWithBackoff redials until the launched server accepts, the child dies,
// or ctx expires.
func dialWithBackoff(ctx context.Context, addr string, child *childProcess) (net.Conn, error) {
	delay := launchInitialDelay
	for {
		conn, err := dialTCP(ctx, addr)
		if err == nil {
			return conn, nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w (last dial error: %v)", ctx.Err(), err)
		case <-child.exited:
			timer.Stop()
			return nil, fmt.Errorf("launched process exited with code %d before accepting connections", child.diagnostics().ExitCode)
		case <-timer.C:
		}
		delay *= launchMultiplier
		if delay > launchMaxDelay {
			delay = launchMaxDelay
		}
	}
}

// nopWriteCloser leaves closing the socket to the reader side so it is closed
// exactly once.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
