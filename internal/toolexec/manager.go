// Package toolexec implements the Tool Execution Manager: the explicit
// state machine governing a single tool invocation's lifecycle
// (CREATED→RUNNING→{COMPLETED,ERROR,ABORTED}, with
// AWAITING_PERMISSION spliced in), plus the permission-request side
// channel a ToolExecution may enter before running.
package toolexec

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentcore/internal/corerr"
	"github.com/opencode-ai/agentcore/internal/eventbus"
	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/opencode-ai/agentcore/pkg/core"
)

// legalTransitions enumerates every permitted (from, to) pair.
// Anything not listed here fails with corerr.KindInvalidTransition.
var legalTransitions = map[core.ToolExecutionStatus]map[core.ToolExecutionStatus]bool{
	core.StatusCreated: {
		core.StatusRunning:            true,
		core.StatusAwaitingPermission: true,
	},
	core.StatusRunning: {
		core.StatusCompleted:          true,
		core.StatusError:              true,
		core.StatusAborted:            true,
		core.StatusAwaitingPermission: true,
	},
	core.StatusAwaitingPermission: {
		core.StatusRunning: true,
		core.StatusAborted: true,
	},
}

func canTransition(from, to core.ToolExecutionStatus) bool {
	return legalTransitions[from][to]
}

// Manager exclusively owns ToolExecutions and PermissionRequests for
// every session process-wide.
type Manager struct {
	bus     *eventbus.Bus
	gateway *persistence.Gateway

	mu           sync.RWMutex
	executions   map[string]*core.ToolExecution
	permissions  map[string]*core.PermissionRequest
	byExecPerm   map[string]string // executionID -> permissionID
	bySession    map[string]map[string]bool // sessionID -> set of executionIDs

	pendingMu sync.Mutex
	pending   map[string]chan bool // permissionID -> granted, buffered size 1
}

// New creates an empty Manager.
func New(bus *eventbus.Bus, gateway *persistence.Gateway) *Manager {
	return &Manager{
		bus:         bus,
		gateway:     gateway,
		executions:  make(map[string]*core.ToolExecution),
		permissions: make(map[string]*core.PermissionRequest),
		byExecPerm:  make(map[string]string),
		bySession:   make(map[string]map[string]bool),
		pending:     make(map[string]chan bool),
	}
}

// Create starts a new ToolExecution in CREATED state.
func (m *Manager) Create(sessionID, toolID, toolName string, args map[string]any) *core.ToolExecution {
	exec := &core.ToolExecution{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		ToolID:    toolID,
		ToolName:  toolName,
		Status:    core.StatusCreated,
		Args:      args,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.executions[exec.ID] = exec
	set, ok := m.bySession[sessionID]
	if !ok {
		set = make(map[string]bool)
		m.bySession[sessionID] = set
	}
	set[exec.ID] = true
	m.mu.Unlock()

	m.emit(eventbus.ToolExecutionCreated, exec)
	return exec
}

// Start transitions a ToolExecution to RUNNING.
func (m *Manager) Start(id string) error {
	exec, err := m.transition(id, core.StatusRunning)
	if err != nil {
		return err
	}
	m.emit(eventbus.ToolExecutionStarted, exec)
	return nil
}

// Complete transitions a ToolExecution to the terminal COMPLETED state.
func (m *Manager) Complete(id string, result any, durationMs int64) error {
	m.mu.Lock()
	exec, ok := m.executions[id]
	if !ok {
		m.mu.Unlock()
		return corerr.New(corerr.KindInvalidTransition, "unknown execution: "+id)
	}
	if !canTransition(exec.Status, core.StatusCompleted) {
		m.mu.Unlock()
		return invalidTransitionErr(exec.Status, core.StatusCompleted)
	}
	exec.Status = core.StatusCompleted
	exec.Result = result
	exec.DurationMS = durationMs
	exec.EndedAt = time.Now()
	m.mu.Unlock()

	m.emit(eventbus.ToolExecutionCompleted, exec)
	m.emit(eventbus.ToolExecutionLegacy, exec)
	return nil
}

// Fail transitions a ToolExecution to the terminal ERROR state.
func (m *Manager) Fail(id string, execErr error) error {
	m.mu.Lock()
	exec, ok := m.executions[id]
	if !ok {
		m.mu.Unlock()
		return corerr.New(corerr.KindInvalidTransition, "unknown execution: "+id)
	}
	if !canTransition(exec.Status, core.StatusError) {
		m.mu.Unlock()
		return invalidTransitionErr(exec.Status, core.StatusError)
	}
	exec.Status = core.StatusError
	exec.Err = &core.ExecutionError{Message: execErr.Error()}
	exec.EndedAt = time.Now()
	m.mu.Unlock()

	m.emit(eventbus.ToolExecutionError, exec)
	return nil
}

// Abort transitions a ToolExecution to the terminal ABORTED state.
func (m *Manager) Abort(id string) error {
	exec, err := m.transition(id, core.StatusAborted)
	if err != nil {
		return err
	}
	m.emit(eventbus.ToolExecutionAborted, exec)
	return nil
}

func (m *Manager) transition(id string, to core.ToolExecutionStatus) (*core.ToolExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, corerr.New(corerr.KindInvalidTransition, "unknown execution: "+id)
	}
	if exec.Status.IsTerminal() {
		return nil, invalidTransitionErr(exec.Status, to)
	}
	if !canTransition(exec.Status, to) {
		return nil, invalidTransitionErr(exec.Status, to)
	}
	exec.Status = to
	return exec, nil
}

func invalidTransitionErr(from, to core.ToolExecutionStatus) error {
	return corerr.New(corerr.KindInvalidTransition, fmt.Sprintf("illegal transition %s -> %s", from, to))
}

// RequestPermission moves a ToolExecution to AWAITING_PERMISSION and
// creates its (exactly one) PermissionRequest. Fails if one is already
// pending for this execution.
func (m *Manager) RequestPermission(executionID string, args map[string]any) (*core.PermissionRequest, error) {
	m.mu.Lock()
	if _, exists := m.byExecPerm[executionID]; exists {
		m.mu.Unlock()
		return nil, corerr.New(corerr.KindInvalidTransition, "permission already pending for execution: "+executionID)
	}
	exec, ok := m.executions[executionID]
	if !ok {
		m.mu.Unlock()
		return nil, corerr.New(corerr.KindInvalidTransition, "unknown execution: "+executionID)
	}
	if !canTransition(exec.Status, core.StatusAwaitingPermission) {
		m.mu.Unlock()
		return nil, invalidTransitionErr(exec.Status, core.StatusAwaitingPermission)
	}
	exec.Status = core.StatusAwaitingPermission

	req := &core.PermissionRequest{
		ID:          ulid.Make().String(),
		SessionID:   exec.SessionID,
		ExecutionID: executionID,
		ToolID:      exec.ToolID,
		ToolName:    exec.ToolName,
		Args:        args,
		RequestedAt: time.Now(),
	}
	m.permissions[req.ID] = req
	m.byExecPerm[executionID] = req.ID
	m.mu.Unlock()

	m.pendingMu.Lock()
	m.pending[req.ID] = make(chan bool, 1)
	m.pendingMu.Unlock()

	m.emit(eventbus.PermissionRequested, PermissionEventPayload{Execution: exec, Permission: req})
	return req, nil
}

// AttachPreview records previewID on an execution. Previews are
// generated asynchronously after completion, so this is a plain
// metadata attach rather than a state transition and is allowed even
// once the execution is terminal.
func (m *Manager) AttachPreview(executionID, previewID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec, ok := m.executions[executionID]; ok {
		exec.PreviewID = previewID
	}
}

// SetParamsNote records a human-readable parameter summary on an
// execution.
func (m *Manager) SetParamsNote(executionID, note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec, ok := m.executions[executionID]; ok {
		exec.ParamsNote = note
	}
}

// AnnotatePermission merges extra metadata (e.g. the doom-loop
// escalation flag the runner attaches) into a pending
// PermissionRequest. A no-op if permissionID is unknown or already
// resolved, since resolved requests are immutable.
func (m *Manager) AnnotatePermission(permissionID string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.permissions[permissionID]
	if !ok || req.Resolved {
		return
	}
	if req.Metadata == nil {
		req.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		req.Metadata[k] = v
	}
}

// ResolvePermission resolves a pending permission request, transitioning
// its execution to RUNNING (granted) or ABORTED (denied). Resolution is
// single-use: resolving an already-resolved request is a no-op.
func (m *Manager) ResolvePermission(permissionID string, granted bool) error {
	m.mu.Lock()
	req, ok := m.permissions[permissionID]
	if !ok {
		m.mu.Unlock()
		return corerr.New(corerr.KindInvalidTransition, "unknown permission request: "+permissionID)
	}
	if req.Resolved {
		m.mu.Unlock()
		return nil
	}
	req.Resolved = true
	req.Granted = granted
	req.ResolvedAt = time.Now()

	exec := m.executions[req.ExecutionID]
	nextStatus := core.StatusAborted
	if granted {
		nextStatus = core.StatusRunning
	}
	if exec != nil && canTransition(exec.Status, nextStatus) {
		exec.Status = nextStatus
	}
	m.mu.Unlock()

	m.pendingMu.Lock()
	if ch, ok := m.pending[permissionID]; ok {
		ch <- granted
		delete(m.pending, permissionID)
	}
	m.pendingMu.Unlock()

	m.emit(eventbus.PermissionResolved, PermissionEventPayload{Execution: exec, Permission: req})
	return nil
}

// ResolveByExecutionID resolves the permission request attached to
// executionID, if any.
func (m *Manager) ResolveByExecutionID(executionID string, granted bool) error {
	m.mu.RLock()
	permID, ok := m.byExecPerm[executionID]
	m.mu.RUnlock()
	if !ok {
		return corerr.New(corerr.KindInvalidTransition, "no pending permission for execution: "+executionID)
	}
	return m.ResolvePermission(permID, granted)
}

// AwaitPermission blocks until permissionID resolves or abortCh closes,
// returning the grant decision. A wait interrupted by abort resolves
// as denied.
func (m *Manager) AwaitPermission(permissionID string, abortCh <-chan struct{}) bool {
	m.pendingMu.Lock()
	ch, ok := m.pending[permissionID]
	m.pendingMu.Unlock()
	if !ok {
		// Resolution may have won the race before the caller started
		// waiting; honour the recorded decision rather than defaulting
		// to a denial.
		m.mu.RLock()
		req, exists := m.permissions[permissionID]
		m.mu.RUnlock()
		if exists && req.Resolved {
			return req.Granted
		}
		return false
	}
	select {
	case granted := <-ch:
		return granted
	case <-abortCh:
		return false
	}
}

// PermissionEventPayload is the payload for PermissionRequested/Resolved
// events, carrying both the execution and the permission request.
type PermissionEventPayload struct {
	Execution  *core.ToolExecution
	Permission *core.PermissionRequest
}

// ExecutionsForSession returns every ToolExecution created for sessionID.
func (m *Manager) ExecutionsForSession(sessionID string) []*core.ToolExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.bySession[sessionID]
	out := make([]*core.ToolExecution, 0, len(ids))
	for id := range ids {
		out = append(out, m.executions[id])
	}
	return out
}

// PermissionForExecution returns the PermissionRequest attached to
// executionID, if any.
func (m *Manager) PermissionForExecution(executionID string) (*core.PermissionRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	permID, ok := m.byExecPerm[executionID]
	if !ok {
		return nil, false
	}
	req, ok := m.permissions[permID]
	return req, ok
}

func (m *Manager) emit(topic eventbus.Topic, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(eventbus.Event{Topic: topic, Payload: payload})
}
