package mcpmgr

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// TransportKind identifies how a tool server is reached.
type TransportKind string

const (
	TransportProcess TransportKind = "process"
	TransportSocket  TransportKind = "socket"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	// Name is the registry key callers use to address the server.
	Name string
	// ConnectTimeout bounds a single connection attempt. Zero falls back to
	// ManagerOptions.ConnectTimeout.
	ConnectTimeout time.Duration
	// CallTimeout bounds a single tool call. Zero falls back to
	// ManagerOptions.CallTimeout.
	CallTimeout time.Duration
	// LogJSONRPC enables traffic logging for this server only.
	LogJSONRPC bool
}

// ProcessServerConfig describes a tool server spawned as a child process and
// spoken to over its standard input and output.
type ProcessServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	// Dir is the child's working directory. Empty means the caller's.
	Dir string
	// Env holds extra variables appended to the parent environment.
	Env map[string]string
}

func (c *ProcessServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// Kind reports TransportProcess.
func (c *ProcessServerConfig) Kind() TransportKind { return TransportProcess }

// Validate checks that the process fields are populated.
func (c *ProcessServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcpmgr: server name is required")
	}
	if c.Command == "" {
		return fmt.Errorf("mcpmgr: command missing for %q", c.Name)
	}
	return nil
}

// LaunchConfig names a command that starts a socket server which is not
// already listening. It is only used after the first dial fails.
type LaunchConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

// SocketServerConfig describes an already-running tool server reachable over
// plain TCP.
type SocketServerConfig struct {
	BaseServerConfig
	Host string
	Port int
	// Launch optionally starts the server when nothing is listening yet.
	Launch *LaunchConfig
}

func (c *SocketServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// Kind reports TransportSocket.
func (c *SocketServerConfig) Kind() TransportKind { return TransportSocket }

// Address joins Host and Port.
func (c *SocketServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks that the socket fields are populated.
func (c *SocketServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcpmgr: server name is required")
	}
	if c.Host == "" {
		return fmt.Errorf("mcpmgr: host missing for %q", c.Name)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("mcpmgr: port %d out of range for %q", c.Port, c.Name)
	}
	if c.Launch != nil && c.Launch.Command == "" {
		return fmt.Errorf("mcpmgr: launch command missing for %q", c.Name)
	}
	return nil
}

// ServerConfig is implemented by all transport-specific configurations. The
// concrete type carries exactly one transport's fields.
type ServerConfig interface {
	Kind() TransportKind
	Validate() error
	base() *BaseServerConfig
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised to servers during the handshake. Defaults to
	// "mcp-tool-client".
	ClientName string
	// ClientVersion is the semantic version reported to servers.
	ClientVersion string
	// ConnectTimeout applies whenever a server omits its own.
	ConnectTimeout time.Duration
	// CallTimeout applies whenever a server omits its own and the caller's
	// context carries no deadline.
	CallTimeout time.Duration
	// TerminateGrace is how long a child process gets between SIGTERM and
	// SIGKILL during teardown.
	TerminateGrace time.Duration
	// Logger receives lifecycle diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// LogJSONRPC toggles traffic logging for every server.
	LogJSONRPC bool
	// RPCLogger provides a custom sink for JSON-RPC traffic; it takes
	// precedence over the slog-based default.
	RPCLogger RPCLogger
	// StderrHandler receives each line a server writes to stderr, in
	// addition to the Warn-level log record. It must not block.
	StderrHandler func(serverID, line string)
	// AutoConnect dials every registered server in the background right
	// after construction.
	AutoConnect bool
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	var opts ManagerOptions
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcp-tool-client"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
