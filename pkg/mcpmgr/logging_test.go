package mcpmgr

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRPCLoggerSeesTraffic(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []RPCLogEvent
	)
	opts := &ManagerOptions{RPCLogger: func(ev RPCLogEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}}
	m := testManager(t, opts, helperProcessConfig(t, "helper", "stdio", nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := m.CallTool(ctx, "helper", "echo", map[string]any{"text": "traced"}); err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawInit, sawCall, sawReply bool
	for _, ev := range events {
		if ev.ServerID != "helper" {
			t.Fatalf("event for unexpected server: %#v", ev)
		}
		msg := string(ev.Message)
		switch {
		case ev.Direction == RPCDirectionSend && strings.Contains(msg, `"initialize"`):
			sawInit = true
		case ev.Direction == RPCDirectionSend && strings.Contains(msg, `"tools/call"`):
			sawCall = true
		case ev.Direction == RPCDirectionReceive && strings.Contains(msg, "traced"):
			sawReply = true
		}
	}
	if !sawInit || !sawCall || !sawReply {
		t.Fatalf("missing traffic: init=%v call=%v reply=%v (%d events)", sawInit, sawCall, sawReply, len(events))
	}
}

func TestResolveRPCLogger(t *testing.T) {
	t.Parallel()

	quiet := NewManager(nil, &ManagerOptions{Logger: discardLogger()})
	if quiet.resolveRPCLogger(&BaseServerConfig{}) != nil {
		t.Fatalf("traffic logging should be off by default")
	}
	if quiet.resolveRPCLogger(&BaseServerConfig{LogJSONRPC: true}) == nil {
		t.Fatalf("per-server LogJSONRPC should enable logging")
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	loud := NewManager(nil, &ManagerOptions{Logger: logger, LogJSONRPC: true})
	rpc := loud.resolveRPCLogger(&BaseServerConfig{})
	if rpc == nil {
		t.Fatalf("manager-wide LogJSONRPC should enable logging")
	}
	rpc(RPCLogEvent{Direction: RPCDirectionSend, Message: []byte(`{"id":1}`), ServerID: "s"})
	if out := buf.String(); !strings.Contains(out, "direction=send") || !strings.Contains(out, "server=s") {
		t.Fatalf("slog traffic record = %q", out)
	}
}
