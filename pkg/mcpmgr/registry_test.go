package mcpmgr

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseRegistry(t *testing.T) {
	t.Setenv("MCPMGR_TEST_SEARCH_PORT", "6100")

	data := []byte(`
servers:
  - name: files
    command: file-server
    args: ["--root", "/srv"]
    cwd: tools
    env:
      LOG: debug
    call_timeout: 5s
  - name: search
    type: socket
    host: 127.0.0.1
    port: ${MCPMGR_TEST_SEARCH_PORT:-5001}
    connect_timeout: 2s
    log_jsonrpc: true
  - name: vectors
    type: tcp
    host: localhost
    port: ${MCPMGR_TEST_UNSET_PORT:-5002}
    launch:
      command: vector-server
      args: ["--port", "5002"]
      cwd: /opt/vectors
`)
	reg, err := ParseRegistry(data, "/etc/toolhub")
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}
	if got, want := reg.Names(), []string{"files", "search", "vectors"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}

	files, ok := AsProcess(mustLookup(t, reg, "files"))
	if !ok {
		t.Fatalf("files should be a process server")
	}
	if files.Command != "file-server" || !reflect.DeepEqual(files.Args, []string{"--root", "/srv"}) {
		t.Fatalf("files command = %q %v", files.Command, files.Args)
	}
	if files.Dir != filepath.Join("/etc/toolhub", "tools") {
		t.Fatalf("relative cwd not resolved: %q", files.Dir)
	}
	if files.Env["LOG"] != "debug" || files.CallTimeout != 5*time.Second {
		t.Fatalf("files base/env = %#v", files)
	}

	search, ok := AsSocket(mustLookup(t, reg, "search"))
	if !ok {
		t.Fatalf("search should be a socket server")
	}
	if search.Port != 6100 || search.ConnectTimeout != 2*time.Second || !search.LogJSONRPC {
		t.Fatalf("search = %#v", search)
	}
	if search.Launch != nil {
		t.Fatalf("search should have no launch command")
	}

	vectors, ok := AsSocket(mustLookup(t, reg, "vectors"))
	if !ok {
		t.Fatalf("vectors should be a socket server")
	}
	if vectors.Port != 5002 {
		t.Fatalf("default port not applied: %d", vectors.Port)
	}
	if vectors.Launch == nil || vectors.Launch.Command != "vector-server" || vectors.Launch.Dir != "/opt/vectors" {
		t.Fatalf("vectors launch = %#v", vectors.Launch)
	}
}

func TestParseRegistryRejectsBadEntries(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"duplicate": `
servers:
  - {name: a, command: x}
  - {name: a, command: y}
`,
		"unknown type": `
servers:
  - {name: a, type: carrier-pigeon, command: x}
`,
		"process with port": `
servers:
  - {name: a, command: x, port: 5000}
`,
		"socket with command": `
servers:
  - {name: a, type: socket, host: h, port: 1, command: x}
`,
		"socket without port": `
servers:
  - {name: a, type: socket, host: h}
`,
		"missing command": `
servers:
  - {name: a}
`,
		"bad yaml": `servers: [`,
	}
	for name, doc := range cases {
		if _, err := ParseRegistry([]byte(doc), ""); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadRegistryFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	doc := "servers:\n  - name: local\n    command: ./bin/server\n    cwd: work\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := LoadRegistryFile(path)
	if err != nil {
		t.Fatalf("LoadRegistryFile: %v", err)
	}
	cfg, _ := AsProcess(mustLookup(t, reg, "local"))
	if cfg.Dir != filepath.Join(dir, "work") {
		t.Fatalf("cwd = %q, want it under %q", cfg.Dir, dir)
	}

	if _, err := LoadRegistryFile(filepath.Join(dir, "missing.yaml")); err == nil || !strings.Contains(err.Error(), "read registry") {
		t.Fatalf("missing file error = %v", err)
	}
}

func TestNewRegistryRejectsDuplicatesAndNil(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(fakeConfig("a"), fakeConfig("a")); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatalf("expected nil config error")
	}
	reg, err := NewRegistry()
	if err != nil || reg.Len() != 0 {
		t.Fatalf("empty registry = %v, %v", reg, err)
	}
	var nilReg *Registry
	if nilReg.Len() != 0 || nilReg.Names() != nil {
		t.Fatalf("nil registry should be empty")
	}
	if _, ok := nilReg.Lookup("a"); ok {
		t.Fatalf("nil registry lookup should miss")
	}
}

func TestExpandWithDefault(t *testing.T) {
	t.Setenv("MCPMGR_TEST_SET", "value")
	t.Setenv("MCPMGR_TEST_EMPTY", "")

	cases := map[string]string{
		"MCPMGR_TEST_SET":             "value",
		"MCPMGR_TEST_SET:-other":      "value",
		"MCPMGR_TEST_EMPTY:-fallback": "fallback",
		"MCPMGR_TEST_UNSET:-5001":     "5001",
		"MCPMGR_TEST_UNSET":           "",
	}
	for ref, want := range cases {
		if got := expandWithDefault(ref); got != want {
			t.Fatalf("expandWithDefault(%q) = %q, want %q", ref, got, want)
		}
	}
}

func mustLookup(t *testing.T, reg *Registry, name string) ServerConfig {
	t.Helper()
	cfg, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("%s not registered", name)
	}
	return cfg
}
