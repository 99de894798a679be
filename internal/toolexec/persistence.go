package toolexec

import (
	"context"

	"github.com/opencode-ai/agentcore/pkg/core"
)

// SaveSessionData persists sessionID's in-memory executions and
// permissions, merging into any existing persisted record so unrelated
// messages and metadata survive.
func (m *Manager) SaveSessionData(ctx context.Context, sessionID string) {
	m.mu.RLock()
	execIDs := m.bySession[sessionID]
	executions := make(map[string]*core.ToolExecution, len(execIDs))
	for id := range execIDs {
		executions[id] = m.executions[id]
	}
	permissions := make(map[string]*core.PermissionRequest)
	for execID := range execIDs {
		if permID, ok := m.byExecPerm[execID]; ok {
			permissions[permID] = m.permissions[permID]
		}
	}
	m.mu.RUnlock()

	_ = m.gateway.SaveExecutions(ctx, sessionID, executions, permissions)
}

// LoadSessionData restores sessionID's executions and permissions from
// the Persistence Gateway into memory, for use when a session is
// restored from disk.
func (m *Manager) LoadSessionData(ctx context.Context, sessionID string) error {
	executions, permissions, err := m.gateway.LoadExecutions(ctx, sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.bySession[sessionID]
	if !ok {
		set = make(map[string]bool)
		m.bySession[sessionID] = set
	}
	for id, exec := range executions {
		m.executions[id] = exec
		set[id] = true
	}
	for id, perm := range permissions {
		m.permissions[id] = perm
		m.byExecPerm[perm.ExecutionID] = id
	}
	return nil
}

// DeleteSessionData removes sessionID's executions/permissions from
// memory and saves an empty set through the Persistence Gateway. Since
// SaveExecutions merges, executions and permissions already persisted
// for the session stay in its record.
func (m *Manager) DeleteSessionData(ctx context.Context, sessionID string) {
	m.clearInMemory(sessionID)
	_ = m.gateway.SaveExecutions(ctx, sessionID, nil, nil)
}

// ClearSessionData removes sessionID's executions/permissions from
// memory only, leaving any persisted record untouched.
func (m *Manager) ClearSessionData(sessionID string) {
	m.clearInMemory(sessionID)
}

func (m *Manager) clearInMemory(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for execID := range m.bySession[sessionID] {
		if permID, ok := m.byExecPerm[execID]; ok {
			delete(m.permissions, permID)
			delete(m.byExecPerm, execID)
		}
		delete(m.executions, execID)
	}
	delete(m.bySession, sessionID)
}
