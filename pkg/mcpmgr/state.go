package mcpmgr

import (
	"errors"
	"sort"
	"time"
)

// ConnectionState is the lifecycle position of one server's connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// connectionRecord is the manager-owned state for one registered server.
// Every field is guarded by Manager.mu.
type connectionRecord struct {
	config ServerConfig
	state  ConnectionState
	// conn is set only while state is StateConnected.
	conn Conn
	// lastError is set only while state is StateError.
	lastError error
	// attempt is set only while state is StateConnecting.
	attempt *connectAttempt

	attempts    int
	connectedAt time.Time
	lastExit    *int
}

// connectAttempt is one in-flight Transport.Open shared by every caller that
// asks for the server while it runs.
type connectAttempt struct {
	done chan struct{}
	// err is the attempt's outcome, readable once done is closed.
	err error
	// abandoned is set by Disconnect; the attempt then tears down whatever
	// it opened instead of publishing it. Guarded by Manager.mu.
	abandoned bool
	// teardownErr is the failure from that teardown, if any.
	teardownErr error
}

// Outcomes maps server names to the result of a batch operation. A nil value
// means the server succeeded.
type Outcomes map[string]error

// Failed returns the names whose operation failed, sorted.
func (o Outcomes) Failed() []string {
	var names []string
	for name, err := range o {
		if err != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Succeeded returns the names whose operation succeeded, sorted.
func (o Outcomes) Succeeded() []string {
	var names []string
	for name, err := range o {
		if err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Err joins every failure, or returns nil when all succeeded.
func (o Outcomes) Err() error {
	var errs []error
	for _, name := range o.Failed() {
		errs = append(errs, o[name])
	}
	return errors.Join(errs...)
}
