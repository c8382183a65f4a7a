package mcpmgr

import "time"

// ServerStatus is an external view of one server's connection record.
type ServerStatus struct {
	Name        string          `json:"name"`
	Transport   TransportKind   `json:"transport"`
	State       ConnectionState `json:"state"`
	Error       string          `json:"error,omitempty"`
	PID         int             `json:"pid,omitempty"`
	LastExit    *int            `json:"lastExitCode,omitempty"`
	ConnectedAt *time.Time      `json:"connectedAt,omitempty"`
	Attempts    int             `json:"attempts"`
}

// Status returns the state of every registered server. It performs no I/O
// and never changes a record.
func (m *Manager) Status() map[string]ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ConnectionState, len(m.records))
	for name, rec := range m.records {
		out[name] = rec.state
	}
	return out
}

// State returns the state for one server and whether it is registered.
func (m *Manager) State(name string) (ConnectionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return "", false
	}
	return rec.state, true
}

// Statuses returns detailed snapshots sorted by server name.
func (m *Manager) Statuses() []ServerStatus {
	names := m.registry.Names()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		rec := m.records[name]
		st := ServerStatus{
			Name:      name,
			Transport: rec.config.Kind(),
			State:     rec.state,
			LastExit:  rec.lastExit,
			Attempts:  rec.attempts,
		}
		if rec.lastError != nil {
			st.Error = rec.lastError.Error()
		}
		if rec.conn != nil {
			st.PID = rec.conn.Diagnostics().PID
			at := rec.connectedAt
			st.ConnectedAt = &at
		}
		out = append(out, st)
	}
	return out
}
