package mcpmgr

// Helpers for narrowing ServerConfig values without a type switch at every
// call site.

// TransportOf returns the transport kind for a ServerConfig.
// Returns an empty string when the value is nil or an unknown implementation.
func TransportOf(cfg ServerConfig) TransportKind {
	switch cfg.(type) {
	case *ProcessServerConfig:
		return TransportProcess
	case *SocketServerConfig:
		return TransportSocket
	default:
		return ""
	}
}

// NameOf returns the registry name of cfg, or "" for nil.
func NameOf(cfg ServerConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.base().Name
}

// IsProcess reports whether cfg is a *ProcessServerConfig.
func IsProcess(cfg ServerConfig) bool {
	_, ok := cfg.(*ProcessServerConfig)
	return ok
}

// IsSocket reports whether cfg is a *SocketServerConfig.
func IsSocket(cfg ServerConfig) bool {
	_, ok := cfg.(*SocketServerConfig)
	return ok
}

// AsProcess narrows cfg to *ProcessServerConfig, returning (nil, false) when
// it does not match.
func AsProcess(cfg ServerConfig) (*ProcessServerConfig, bool) {
	c, ok := cfg.(*ProcessServerConfig)
	return c, ok
}

// AsSocket narrows cfg to *SocketServerConfig, returning (nil, false) when it
// does not match.
func AsSocket(cfg ServerConfig) (*SocketServerConfig, bool) {
	c, ok := cfg.(*SocketServerConfig)
	return c, ok
}
