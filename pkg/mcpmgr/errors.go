package mcpmgr

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the manager.
type ErrorKind string

const (
	// KindConfig means the server name is not in the registry.
	KindConfig ErrorKind = "config"
	// KindConnect means spawning or dialing the server failed.
	KindConnect ErrorKind = "connect"
	// KindTimeout means a connect or call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindClosed means the transport closed underneath a call.
	KindClosed ErrorKind = "closed"
	// KindTool means the server rejected or failed the tool invocation.
	KindTool ErrorKind = "tool"
	// KindUnavailable means a call could not obtain a connection.
	KindUnavailable ErrorKind = "unavailable"
	// KindTeardown means closing a transport or killing a process failed.
	KindTeardown ErrorKind = "teardown"
)

// Sentinels for errors.Is checks against an *Error of the matching kind.
var (
	ErrNotRegistered   = errors.New("server not registered")
	ErrConnect         = errors.New("connection failed")
	ErrTimeout         = errors.New("timeout")
	ErrTransportClosed = errors.New("transport closed")
	ErrToolExecution   = errors.New("tool execution failed")
	ErrUnavailable     = errors.New("connection unavailable")
	ErrTeardown        = errors.New("teardown failed")
)

var kindSentinels = map[ErrorKind]error{
	KindConfig:      ErrNotRegistered,
	KindConnect:     ErrConnect,
	KindTimeout:     ErrTimeout,
	KindClosed:      ErrTransportClosed,
	KindTool:        ErrToolExecution,
	KindUnavailable: ErrUnavailable,
	KindTeardown:    ErrTeardown,
}

// Error describes a failure tied to one server and, for calls, one tool.
type Error struct {
	Kind   ErrorKind
	Server string
	Tool   string
	Err    error
}

func newError(kind ErrorKind, server, tool string, cause error) *Error {
	return &Error{Kind: kind, Server: server, Tool: tool, Err: cause}
}

func (e *Error) Error() string {
	msg := kindSentinels[e.Kind].Error()
	switch {
	case e.Tool != "":
		msg = fmt.Sprintf("mcpmgr: %s: %s/%s", msg, e.Server, e.Tool)
	default:
		msg = fmt.Sprintf("mcpmgr: %s: %s", msg, e.Server)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
