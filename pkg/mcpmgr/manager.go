package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Manager owns one connection record per registered tool server and is the
// only place their state changes.
type Manager struct {
	mu sync.RWMutex

	options  ManagerOptions
	registry *Registry
	records  map[string]*connectionRecord

	// newTransport is swapped out by tests.
	newTransport func(ServerConfig, transportEnv) (Transport, error)
}

// NewManager builds a Manager with every registry entry disconnected. A nil
// registry yields a manager with no servers. When options.AutoConnect is set,
// ConnectAll runs in the background.
func NewManager(registry *Registry, opts *ManagerOptions) *Manager {
	if registry == nil {
		registry = &Registry{configs: map[string]ServerConfig{}}
	}
	m := &Manager{
		options:      opts.withDefaults(),
		registry:     registry,
		records:      make(map[string]*connectionRecord, registry.Len()),
		newTransport: newTransport,
	}
	for _, name := range registry.Names() {
		cfg, _ := registry.Lookup(name)
		m.records[name] = &connectionRecord{config: cfg, state: StateDisconnected}
	}
	if m.options.AutoConnect {
		go m.ConnectAll(context.Background())
	}
	return m
}

// ServerNames returns the registered server names in sorted order.
func (m *Manager) ServerNames() []string {
	return m.registry.Names()
}

// HasServer reports whether name is registered.
func (m *Manager) HasServer(name string) bool {
	_, ok := m.registry.Lookup(name)
	return ok
}

// ServerConfig returns the registered config for name, or nil.
func (m *Manager) ServerConfig(name string) ServerConfig {
	cfg, _ := m.registry.Lookup(name)
	return cfg
}

// Connect establishes the connection for name. It returns nil at once when
// already connected, joins the in-flight attempt when one is running, and
// otherwise starts one. The attempt itself is bounded only by the connect
// timeout, so a caller giving up early does not fail it for the others. A
// failure leaves the record in StateError with the same error returned here.
func (m *Manager) Connect(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return newError(KindConfig, name, "", nil)
	}
	var attempt *connectAttempt
	switch rec.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		attempt = rec.attempt
	default:
		attempt = &connectAttempt{done: make(chan struct{})}
		rec.state = StateConnecting
		rec.attempt = attempt
		rec.lastError = nil
		rec.attempts++
		go m.runAttempt(context.WithoutCancel(ctx), name, rec, attempt)
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return waitError(name, ctx.Err())
	case <-attempt.done:
		return attempt.err
	}
}

// runAttempt opens the transport and publishes the result on rec.
func (m *Manager) runAttempt(ctx context.Context, name string, rec *connectionRecord, attempt *connectAttempt) {
	cfg := rec.config
	start := time.Now()
	conn, err := m.open(ctx, name, cfg)

	m.mu.Lock()
	if attempt.abandoned {
		m.mu.Unlock()
		m.settleAbandoned(name, rec, attempt, conn, err)
		return
	}
	if err != nil {
		rec.state = StateError
		rec.lastError = err
	} else {
		rec.state = StateConnected
		rec.conn = conn
		rec.connectedAt = time.Now()
	}
	rec.attempt = nil
	attempt.err = err
	close(attempt.done)
	m.mu.Unlock()

	if err != nil {
		m.options.Logger.Warn("tool server connect failed", "server", name, "error", err)
		return
	}
	m.options.Logger.Info("tool server connected",
		"server", name,
		"transport", string(cfg.Kind()),
		"elapsed", time.Since(start),
	)
	go m.watch(name, rec, conn)
}

// settleAbandoned finishes an attempt that Disconnect gave up on: the new
// conn, if any, is closed and the record ends disconnected unless that
// teardown fails.
func (m *Manager) settleAbandoned(name string, rec *connectionRecord, attempt *connectAttempt, conn Conn, openErr error) {
	var closeErr error
	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*m.options.TerminateGrace)
		closeErr = conn.Close(ctx)
		cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec.attempt = nil
	rec.state = StateDisconnected
	rec.lastError = nil
	if closeErr != nil {
		attempt.teardownErr = newError(KindTeardown, name, "", closeErr)
		rec.state = StateError
		rec.lastError = attempt.teardownErr
		m.options.Logger.Error("tool server teardown failed", "server", name, "error", closeErr)
	}
	if openErr != nil {
		attempt.err = openErr
	} else {
		attempt.err = newError(KindClosed, name, "", errors.New("disconnected while connecting"))
	}
	close(attempt.done)
}

func (m *Manager) open(ctx context.Context, name string, cfg ServerConfig) (Conn, error) {
	timeout := cfg.base().ConnectTimeout
	if timeout <= 0 {
		timeout = m.options.ConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := m.newTransport(cfg, m.transportEnv(name, cfg))
	if err != nil {
		return nil, newError(KindConnect, name, "", err)
	}
	conn, err := transport.Open(connectCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(connectCtx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindTimeout, name, "", err)
		}
		return nil, newError(KindConnect, name, "", err)
	}
	return conn, nil
}

func (m *Manager) transportEnv(name string, cfg ServerConfig) transportEnv {
	return transportEnv{
		serverID: name,
		impl: &mcp.Implementation{
			Name:    m.options.ClientName,
			Version: m.options.ClientVersion,
		},
		logger:    m.options.Logger,
		rpcLogger: m.resolveRPCLogger(cfg.base()),
		onStderr:  m.options.StderrHandler,
		grace:     m.options.TerminateGrace,
	}
}

// watch flips the record to StateDisconnected when conn closes on its own.
// It is a no-op when the record has moved on to another conn or was torn
// down through Disconnect.
func (m *Manager) watch(name string, rec *connectionRecord, conn Conn) {
	<-conn.Done()

	m.mu.Lock()
	if rec.conn != conn {
		m.mu.Unlock()
		return
	}
	rec.conn = nil
	rec.state = StateDisconnected
	m.mu.Unlock()

	// Reap whatever is left of the transport, such as a child whose stdout
	// closed while the process lingers.
	ctx, cancel := context.WithTimeout(context.Background(), 2*m.options.TerminateGrace)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		m.options.Logger.Warn("release closed transport", "server", name, "error", err)
	}

	diag := conn.Diagnostics()
	if diag.Exited {
		code := diag.ExitCode
		m.mu.Lock()
		rec.lastExit = &code
		m.mu.Unlock()
	}
	m.options.Logger.Info("tool server disconnected",
		"server", name,
		"pid", diag.PID,
		"exit_code", diag.ExitCode,
	)
}

// ConnectAll connects every registered server concurrently and waits for all
// attempts to settle. It never fails as a whole; inspect the outcomes.
func (m *Manager) ConnectAll(ctx context.Context) Outcomes {
	outcomes := m.fanOut(func(name string) error {
		return m.Connect(ctx, name)
	})
	m.options.Logger.Info("connect all finished",
		"connected", outcomes.Succeeded(),
		"failed", outcomes.Failed(),
	)
	return outcomes
}

// Disconnect tears down the connection for name and leaves it
// StateDisconnected. An in-flight attempt is waited for, bounded by ctx, and
// whatever it opened is closed. A teardown failure moves the record to
// StateError.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return newError(KindConfig, name, "", nil)
	}
	switch rec.state {
	case StateConnecting:
		attempt := rec.attempt
		attempt.abandoned = true
		m.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.teardownErr
		case <-ctx.Done():
			// The attempt still closes what it opens once it settles.
			return newError(KindTeardown, name, "", fmt.Errorf("waiting for connection attempt: %w", ctx.Err()))
		}
	case StateError:
		rec.state = StateDisconnected
		rec.lastError = nil
		m.mu.Unlock()
		return nil
	}
	conn := rec.conn
	if rec.state != StateConnected || conn == nil {
		m.mu.Unlock()
		return nil
	}
	rec.conn = nil
	rec.state = StateDisconnected
	m.mu.Unlock()

	closeErr := conn.Close(ctx)
	diag := conn.Diagnostics()

	m.mu.Lock()
	defer m.mu.Unlock()
	if diag.Exited {
		code := diag.ExitCode
		rec.lastExit = &code
	}
	if closeErr == nil {
		return nil
	}
	err := newError(KindTeardown, name, "", closeErr)
	// A concurrent Connect may already own the record again.
	if rec.state == StateDisconnected && rec.conn == nil {
		rec.state = StateError
		rec.lastError = err
	}
	m.options.Logger.Error("tool server teardown failed", "server", name, "error", closeErr)
	return err
}

// DisconnectAll tears down every server concurrently and leaves each one
// StateDisconnected, or StateError when its own teardown failed. One server
// failing to shut down does not stop the others.
func (m *Manager) DisconnectAll(ctx context.Context) Outcomes {
	outcomes := m.fanOut(func(name string) error {
		return m.Disconnect(ctx, name)
	})
	m.options.Logger.Info("disconnect all finished",
		"failed", outcomes.Failed(),
	)
	return outcomes
}

func (m *Manager) fanOut(op func(name string) error) Outcomes {
	names := m.registry.Names()
	outcomes := make(Outcomes, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := op(name)
			mu.Lock()
			outcomes[name] = err
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return outcomes
}

// connected returns the live conn for name, connecting first when needed.
func (m *Manager) connected(ctx context.Context, name string) (Conn, error) {
	m.mu.RLock()
	rec := m.records[name]
	conn := rec.conn
	state := rec.state
	m.mu.RUnlock()
	if state == StateConnected && conn != nil {
		return conn, nil
	}

	m.options.Logger.Warn("tool server not connected, connecting", "server", name, "state", string(state))
	if err := m.Connect(ctx, name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	conn = rec.conn
	m.mu.RUnlock()
	if conn == nil {
		return nil, newError(KindClosed, name, "", fmt.Errorf("connection dropped right after connect"))
	}
	return conn, nil
}

func waitError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, name, "", err)
	}
	return fmt.Errorf("mcpmgr: waiting for %q to connect: %w", name, err)
}
