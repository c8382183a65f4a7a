package mcpgateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
)

func newTestRegistry(t *testing.T, configs ...mcpmgr.ServerConfig) *mcpmgr.Registry {
	t.Helper()
	reg, err := mcpmgr.NewRegistry(configs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

// Verifies that consumers can add custom routes via ServeMux before serving.
func TestGatewayServeMux_AllowsCustomRoutes_BeforeServe(t *testing.T) {
	manager := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{Logger: discardLogger()})
	gateway, err := NewGateway(manager, &Options{Path: "/mcp", Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	mux := gateway.ServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("GET /healthz status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "ok" {
		t.Fatalf("GET /healthz body = %q, want \"ok\"", string(body))
	}
}

func TestGatewayStatusEndpoint(t *testing.T) {
	manager := mcpmgr.NewManager(newTestRegistry(t,
		&mcpmgr.SocketServerConfig{
			BaseServerConfig: mcpmgr.BaseServerConfig{Name: "search"},
			Host:             "127.0.0.1",
			Port:             closedPort(t),
		},
	), &mcpmgr.ManagerOptions{Logger: discardLogger()})

	gateway, err := NewGateway(manager, &Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	srv := httptest.NewServer(gateway.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", res.StatusCode)
	}
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("CORS header = %q", got)
	}

	var body struct {
		Servers []mcpmgr.ServerStatus `json:"servers"`
		Tools   []string              `json:"tools"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(body.Servers) != 1 {
		t.Fatalf("servers = %#v", body.Servers)
	}
	// The initial sync tried and failed to reach the server.
	st := body.Servers[0]
	if st.Name != "search" || st.State != mcpmgr.StateError || st.Error == "" || st.Transport != mcpmgr.TransportSocket {
		t.Fatalf("status = %#v", st)
	}
	if len(body.Tools) != 0 {
		t.Fatalf("unreachable server should expose no tools: %v", body.Tools)
	}

	post, err := srv.Client().Post(srv.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /status: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status = %d", post.StatusCode)
	}
}

func TestNewGatewayValidation(t *testing.T) {
	if _, err := NewGateway(nil, nil); err == nil {
		t.Fatalf("expected error for nil manager")
	}
	manager := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{Logger: discardLogger()})
	if _, err := NewGateway(manager, &Options{Path: "/x", StatusPath: "/x", Logger: discardLogger()}); err == nil {
		t.Fatalf("expected error for clashing paths")
	}
}
