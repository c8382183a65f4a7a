package mcpgateway

import (
	"maps"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServerID   = "toolhub.server_id"
	metaKeyNativeName = "toolhub.native_name"
)

// toolIndex maps gateway tool names to the upstream server and tool that
// back them.
type toolIndex struct {
	ns NamespaceStrategy

	mu sync.RWMutex

	tools       map[string]toolTarget
	serverTools map[string][]string
}

type toolTarget struct {
	GatewayName string
	ServerID    string
	NativeName  string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newToolIndex(ns NamespaceStrategy) *toolIndex {
	return &toolIndex{
		ns:          ns,
		tools:       make(map[string]toolTarget),
		serverTools: make(map[string][]string),
	}
}

// Update replaces serverID's tools. It returns the gateway names to remove
// and the registrations to add.
func (f *toolIndex) Update(serverID string, upstream []*mcp.Tool) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeLocked(serverID)
	added = make([]toolRegistration, 0, len(upstream))
	names := make([]string, 0, len(upstream))
	for _, tool := range upstream {
		if tool == nil || tool.Name == "" {
			continue
		}
		gatewayName := f.ns.ToolName(serverID, tool.Name)
		clone := cloneTool(tool, gatewayName, serverID)
		target := toolTarget{GatewayName: gatewayName, ServerID: serverID, NativeName: tool.Name}
		f.tools[gatewayName] = target
		added = append(added, toolRegistration{Tool: clone, Target: target})
		names = append(names, gatewayName)
	}
	f.serverTools[serverID] = names
	return removed, added
}

// Remove drops every tool of serverID and returns their gateway names.
func (f *toolIndex) Remove(serverID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeLocked(serverID)
}

func (f *toolIndex) Target(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

// Names returns every gateway tool name, sorted.
func (f *toolIndex) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.tools))
	for name := range f.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *toolIndex) removeLocked(serverID string) []string {
	names := f.serverTools[serverID]
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		delete(f.tools, name)
	}
	delete(f.serverTools, serverID)
	return append([]string(nil), names...)
}

func cloneTool(tool *mcp.Tool, gatewayName, serverID string) *mcp.Tool {
	clone := *tool
	clone.Name = gatewayName
	clone.Meta = withMeta(tool.Meta, map[string]any{
		metaKeyServerID:   serverID,
		metaKeyNativeName: tool.Name,
	})
	// The server refuses tools without an object input schema.
	if clone.InputSchema == nil {
		clone.InputSchema = &jsonschema.Schema{Type: "object"}
	}
	return &clone
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
