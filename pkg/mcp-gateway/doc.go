// Package mcpgateway exposes an HTTP-facing aggregation layer that mirrors the
// tools of every server registered with an mcpmgr.Manager over a single
// Streamable MCP server. Downstream clients connect to one host; each proxied
// call goes through Manager.CallTool, so it gets the same lazy reconnect,
// timeouts and error classification as a direct caller. A JSON status
// endpoint reports the manager's connection records.
package mcpgateway
