package mcpmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry is the static set of tool servers a Manager knows about. It is
// read-only once constructed.
type Registry struct {
	configs map[string]ServerConfig
	names   []string
}

// NewRegistry validates configs and indexes them by name. Duplicate names are
// rejected.
func NewRegistry(configs ...ServerConfig) (*Registry, error) {
	r := &Registry{configs: make(map[string]ServerConfig, len(configs))}
	for _, cfg := range configs {
		if cfg == nil {
			return nil, fmt.Errorf("mcpmgr: nil server config")
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		name := NameOf(cfg)
		if _, dup := r.configs[name]; dup {
			return nil, fmt.Errorf("mcpmgr: duplicate server name %q", name)
		}
		r.configs[name] = cfg
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Names returns the registered server names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

// Lookup returns the config registered under name.
func (r *Registry) Lookup(name string) (ServerConfig, bool) {
	if r == nil {
		return nil, false
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Len reports how many servers are registered.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// registryFile is the on-disk YAML shape.
type registryFile struct {
	Servers []serverEntry `yaml:"servers"`
}

type serverEntry struct {
	Name           string            `yaml:"name"`
	Type           string            `yaml:"type"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Cwd            string            `yaml:"cwd"`
	Env            map[string]string `yaml:"env"`
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Launch         *launchEntry      `yaml:"launch"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	CallTimeout    time.Duration     `yaml:"call_timeout"`
	LogJSONRPC     bool              `yaml:"log_jsonrpc"`
}

type launchEntry struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Cwd     string            `yaml:"cwd"`
	Env     map[string]string `yaml:"env"`
}

// LoadRegistryFile reads a YAML registry. Relative working directories are
// resolved against the file's directory.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: read registry: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: resolve registry path: %w", err)
	}
	return ParseRegistry(data, filepath.Dir(abs))
}

// ParseRegistry decodes YAML registry data. Environment references such as
// $PORT, ${PORT} and ${PORT:-5001} are expanded before decoding.
func ParseRegistry(data []byte, baseDir string) (*Registry, error) {
	expanded := os.Expand(string(data), expandWithDefault)

	var file registryFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("mcpmgr: parse registry: %w", err)
	}
	configs := make([]ServerConfig, 0, len(file.Servers))
	for i, entry := range file.Servers {
		cfg, err := entry.toConfig(baseDir)
		if err != nil {
			return nil, fmt.Errorf("mcpmgr: servers[%d]: %w", i, err)
		}
		configs = append(configs, cfg)
	}
	return NewRegistry(configs...)
}

func (e serverEntry) toConfig(baseDir string) (ServerConfig, error) {
	base := BaseServerConfig{
		Name:           e.Name,
		ConnectTimeout: e.ConnectTimeout,
		CallTimeout:    e.CallTimeout,
		LogJSONRPC:     e.LogJSONRPC,
	}
	switch TransportKind(strings.ToLower(e.Type)) {
	case TransportProcess, "stdio", "":
		if e.Host != "" || e.Port != 0 || e.Launch != nil {
			return nil, fmt.Errorf("process server %q must not set host, port or launch", e.Name)
		}
		return &ProcessServerConfig{
			BaseServerConfig: base,
			Command:          e.Command,
			Args:             e.Args,
			Dir:              resolveDir(baseDir, e.Cwd),
			Env:              e.Env,
		}, nil
	case TransportSocket, "tcp":
		if e.Command != "" || len(e.Args) > 0 {
			return nil, fmt.Errorf("socket server %q must use launch for its start command", e.Name)
		}
		cfg := &SocketServerConfig{
			BaseServerConfig: base,
			Host:             e.Host,
			Port:             e.Port,
		}
		if e.Launch != nil {
			cfg.Launch = &LaunchConfig{
				Command: e.Launch.Command,
				Args:    e.Launch.Args,
				Dir:     resolveDir(baseDir, e.Launch.Cwd),
				Env:     e.Launch.Env,
			}
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q for %q", e.Type, e.Name)
	}
}

func resolveDir(baseDir, dir string) string {
	if dir == "" || filepath.IsAbs(dir) || baseDir == "" {
		return dir
	}
	return filepath.Join(baseDir, dir)
}

// expandWithDefault resolves NAME and NAME:-default references.
func expandWithDefault(ref string) string {
	name, def, hasDefault := strings.Cut(ref, ":-")
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}
