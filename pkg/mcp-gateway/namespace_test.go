package mcpgateway

import "testing"

func TestServerPrefixNamespaceToolRoundTrip(t *testing.T) {
	ns := ServerPrefixNamespace{}
	gateway := ns.ToolName("alpha", "read_file")
	if gateway != "alpha__read_file" {
		t.Fatalf("gateway name = %q", gateway)
	}
	native, ok := ns.NativeToolName("alpha", gateway)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if native != "read_file" {
		t.Fatalf("unexpected native value: %s", native)
	}
}

func TestServerPrefixNamespaceDecodeMismatch(t *testing.T) {
	ns := ServerPrefixNamespace{Separator: "."}
	if _, ok := ns.NativeToolName("alpha", ns.ToolName("bravo", "x")); ok {
		t.Fatalf("decode should fail when server ids differ")
	}
	if _, ok := ns.NativeToolName("alpha", "alpha."); ok {
		t.Fatalf("decode should fail for an empty tool name")
	}
	if got := ns.ToolName("alpha", "x"); got != "alpha.x" {
		t.Fatalf("custom separator ignored: %q", got)
	}
}
