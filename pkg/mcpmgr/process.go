package mcpmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// processTransport spawns the server and speaks newline-delimited JSON-RPC
// over the child's stdin and stdout.
type processTransport struct {
	cfg *ProcessServerConfig
	env transportEnv
}

func (t *processTransport) Open(ctx context.Context) (Conn, error) {
	cmd := buildCommand(t.cfg.Command, t.cfg.Args, t.cfg.Dir, t.cfg.Env)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// A plain pipe rather than StdoutPipe: Wait must not close the read end
	// before the last response has been consumed.
	stdout, childStdout, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = childStdout
	cmd.Stderr = newLineWriter(func(line string) {
		t.env.logger.Warn("tool server stderr", "server", t.env.serverID, "line", line)
		if t.env.onStderr != nil {
			t.env.onStderr(t.env.serverID, line)
		}
	})
	child, err := startChild(cmd, t.env.grace)
	_ = childStdout.Close()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, err
	}
	t.env.logger.Info("tool server process started",
		"server", t.env.serverID,
		"command", t.cfg.Command,
		"args", t.cfg.Args,
		"pid", child.pid,
	)

	abort := func() {
		_ = stdout.Close()
		_ = stdin.Close()
	}
	conn, err := connectSession(ctx, t.env, &mcp.IOTransport{Reader: stdout, Writer: stdin}, child, abort)
	if err != nil {
		abort()
		if termErr := child.terminate(context.Background(), t.env.grace); termErr != nil {
			t.env.logger.Error("terminate after failed handshake", "server", t.env.serverID, "error", termErr)
		}
		return nil, fmt.Errorf("initialize %s: %w", t.cfg.Command, err)
	}
	return conn, nil
}

func buildCommand(command string, args []string, dir string, env map[string]string) *exec.Cmd {
	// Not CommandContext: the child must outlive the connect deadline.
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return cmd
}

// childProcess tracks a spawned process until it exits.
type childProcess struct {
	cmd    *exec.Cmd
	pid    int
	exited chan struct{}

	mu       sync.Mutex
	exitCode int
}

func startChild(cmd *exec.Cmd, waitDelay time.Duration) (*childProcess, error) {
	// Bounds Wait when a grandchild keeps stderr open.
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process %s: %w", cmd.Path, err)
	}
	p := &childProcess{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		exited:   make(chan struct{}),
		exitCode: -1,
	}
	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		p.mu.Unlock()
		close(p.exited)
	}()
	return p, nil
}

// terminate sends SIGTERM, waits up to grace, then kills.
func (p *childProcess) terminate(ctx context.Context, grace time.Duration) error {
	if p.hasExited() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && errors.Is(err, os.ErrProcessDone) {
		<-p.exited
		return nil
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.pid, err)
	}
	select {
	case <-p.exited:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("pid %d still running after kill", p.pid)
	}
}

func (p *childProcess) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

func (p *childProcess) diagnostics() ConnDiagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ConnDiagnostics{PID: p.pid, ExitCode: p.exitCode, Exited: p.hasExited()}
}

// lineWriter hands complete lines to emit; partial lines are buffered.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		if trimmed := bytes.TrimRight([]byte(line), "\r\n"); len(trimmed) > 0 {
			w.emit(string(trimmed))
		}
	}
}

func newProcessLogger(logger *slog.Logger, serverID, stream string) *lineWriter {
	return newLineWriter(func(line string) {
		logger.Debug("launched process output", "server", serverID, "stream", stream, "line", line)
	})
}
