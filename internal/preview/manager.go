// Package preview implements the Preview Manager: a storage-only
// component keyed by execution id. Preview *content* is
// produced elsewhere: the runner's tool-call guard stores the preview
// strings a tool returns once it completes, and CreatePermissionPreview
// stores one made when a permission request is raised (the runner
// creates none at that point). The diff helper in this package serves
// the edit tool; the Manager itself never invents content.
package preview

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/opencode-ai/agentcore/pkg/core"
)

// Manager stores Previews in memory, keyed by execution id, and mirrors
// them to the Persistence Gateway on save/load.
type Manager struct {
	gateway *persistence.Gateway

	mu       sync.RWMutex
	byExec   map[string]*core.Preview // executionID -> Preview
	bySess   map[string]map[string]bool // sessionID -> set of preview IDs
}

// New creates an empty Manager backed by gateway.
func New(gateway *persistence.Gateway) *Manager {
	return &Manager{
		gateway: gateway,
		byExec:  make(map[string]*core.Preview),
		bySess:  make(map[string]map[string]bool),
	}
}

// CreatePreview stores a Preview for a completed ToolExecution.
func (m *Manager) CreatePreview(sessionID, executionID, contentType, brief string, full string, metadata map[string]any) *core.Preview {
	p := &core.Preview{
		ID:          ulid.Make().String(),
		SessionID:   sessionID,
		ExecutionID: executionID,
		ContentType: contentType,
		Brief:       brief,
		Full:        full,
		Metadata:    metadata,
	}
	m.store(p)
	return p
}

// CreatePermissionPreview stores a Preview generated synchronously at
// permission-request time, additionally linked to the permission id.
func (m *Manager) CreatePermissionPreview(sessionID, executionID, permissionID, contentType, brief, full string, metadata map[string]any) *core.Preview {
	p := &core.Preview{
		ID:           ulid.Make().String(),
		SessionID:    sessionID,
		ExecutionID:  executionID,
		PermissionID: permissionID,
		ContentType:  contentType,
		Brief:        brief,
		Full:         full,
		Metadata:     metadata,
	}
	m.store(p)
	return p
}

func (m *Manager) store(p *core.Preview) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byExec[p.ExecutionID] = p
	set, ok := m.bySess[p.SessionID]
	if !ok {
		set = make(map[string]bool)
		m.bySess[p.SessionID] = set
	}
	set[p.ID] = true
}

// GetForExecution returns the Preview attached to executionID, if any.
// A missing preview is never an error — it never blocks a state
// transition and can be regenerated on demand.
func (m *Manager) GetForExecution(executionID string) (*core.Preview, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byExec[executionID]
	return p, ok
}

// SaveSessionData persists every in-memory preview belonging to
// sessionID through the Persistence Gateway.
func (m *Manager) SaveSessionData(ctx context.Context, sessionID string) {
	m.mu.RLock()
	previews := make(map[string]*core.Preview)
	for id := range m.bySess[sessionID] {
		for _, p := range m.byExec {
			if p.ID == id {
				previews[p.ID] = p
			}
		}
	}
	m.mu.RUnlock()
	if len(previews) == 0 {
		return
	}
	_ = m.gateway.SavePreviews(ctx, sessionID, previews)
}

// LoadSessionData loads sessionID's previews from the Persistence
// Gateway into memory, for use when a session is restored.
func (m *Manager) LoadSessionData(ctx context.Context, sessionID string) error {
	previews, err := m.gateway.LoadPreviews(ctx, sessionID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.bySess[sessionID]
	if !ok {
		set = make(map[string]bool)
		m.bySess[sessionID] = set
	}
	for _, p := range previews {
		m.byExec[p.ExecutionID] = p
		set[p.ID] = true
	}
	return nil
}
