// Package mcpmgr keeps connections to a fixed set of heterogeneous tool
// servers and exposes one "call this tool with these arguments" operation
// across all of them. Servers are either child processes spoken to over
// stdin/stdout or already-running processes reached over TCP; both carry the
// Model Context Protocol via the modelcontextprotocol/go-sdk client.
//
// # Core entry points
//
//   - Registry is the static list of servers. Build it with NewRegistry from
//     ProcessServerConfig / SocketServerConfig values or load it from YAML
//     with LoadRegistryFile.
//   - Manager owns one connection record per server and drives it through
//     disconnected, connecting, connected and error. Connect, ConnectAll and
//     DisconnectAll change state; only one connection attempt per server is
//     ever in flight.
//   - Manager.CallTool is the public invocation path. It connects lazily,
//     applies a call timeout, and reports failures as *Error values whose
//     Kind tells configuration, connection, timeout, closed-transport and
//     tool failures apart. Nothing is retried.
//   - Manager.Status and Manager.Statuses are read-only snapshots for health
//     checks.
//
// When inspecting configs returned from ServerConfig, use the helper guards
// and narrowers (IsProcess/IsSocket and AsProcess/AsSocket) or TransportOf to
// branch on the concrete transport type.
package mcpmgr
