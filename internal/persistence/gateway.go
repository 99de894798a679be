// Package persistence implements the Persistence Gateway: durable
// storage of session metadata, messages, tool executions, permissions
// and previews, layered on the generic path-keyed JSON document store
// in internal/store plus this package's record shape and merge
// semantics.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentcore/internal/store"
	"github.com/opencode-ai/agentcore/pkg/core"
)

// SessionSummary is one row of a ListSessions result.
type SessionSummary struct {
	ID           string `json:"id"`
	CreatedAt    int64  `json:"createdAt"`
	LastActiveAt int64  `json:"lastActiveAt"`
	AdapterKind  string `json:"adapterKind"`
}

// executionRecord and permissionRecord are plain-JSON mirrors of
// pkg/core's types; kept separate from core.ToolExecution/
// core.PermissionRequest so this package never needs core to expose
// JSON tags it otherwise has no reason to carry.
type executionRecord struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	ToolID     string         `json:"toolId"`
	ToolName   string         `json:"toolName"`
	Status     string         `json:"status"`
	Args       map[string]any `json:"args"`
	ParamsNote string         `json:"paramsNote"`
	Result     any            `json:"result,omitempty"`
	Err        *core.ExecutionError `json:"error,omitempty"`
	PreviewID  string         `json:"previewId,omitempty"`
	StartedAt  int64          `json:"startedAt"`
	EndedAt    int64          `json:"endedAt"`
	DurationMS int64          `json:"durationMs"`
}

type permissionRecord struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	ExecutionID string         `json:"executionId"`
	ToolID      string         `json:"toolId"`
	ToolName    string         `json:"toolName"`
	Args        map[string]any `json:"args"`
	Metadata    map[string]any `json:"metadata"`
	RequestedAt int64          `json:"requestedAt"`
	ResolvedAt  int64          `json:"resolvedAt"`
	Resolved    bool           `json:"resolved"`
	Granted     bool           `json:"granted"`
}

type previewRecord struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"sessionId"`
	ExecutionID  string         `json:"executionId"`
	PermissionID string         `json:"permissionId,omitempty"`
	ContentType  string         `json:"contentType"`
	Brief        string         `json:"brief"`
	Full         string         `json:"full,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// record is the on-disk shape of a single session's durable state.
// The Session Manager owns metadata, the Tool Execution Manager owns
// executions/permissions, the Preview Manager owns previews; the
// Gateway never interprets any of it beyond this key layout.
type record struct {
	ID           string              `json:"id"`
	CreatedAt    int64               `json:"createdAt"`
	LastActiveAt int64               `json:"lastActiveAt"`
	AdapterKind  string              `json:"adapterKind"`
	SandboxID    string              `json:"sandboxId,omitempty"`
	Config       json.RawMessage     `json:"config,omitempty"`
	Messages     []json.RawMessage   `json:"messages,omitempty"`

	Executions  map[string]executionRecord  `json:"executions,omitempty"`
	Permissions map[string]permissionRecord `json:"permissions,omitempty"`
	Previews    map[string]previewRecord    `json:"previews,omitempty"`
}

// Gateway is the Persistence Gateway. It is safe for concurrent use.
type Gateway struct {
	store  *store.Store
	logger zerolog.Logger
}

// New creates a Gateway rooted at dataDir.
func New(dataDir string, logger zerolog.Logger) *Gateway {
	return &Gateway{store: store.New(dataDir), logger: logger.With().Str("component", "persistence").Logger()}
}

func sessionPath(id string) []string { return []string{"sessions", id} }

// SaveSession persists session-owned metadata. It
// merges into any existing record so it never clobbers
// executions/permissions/previews owned by other components.
func (g *Gateway) SaveSession(ctx context.Context, s *core.Session) error {
	var rec record
	err := g.store.Update(ctx, sessionPath(s.ID), &rec, func() error {
		cfg, err := json.Marshal(s.Config)
		if err != nil {
			return err
		}
		rec.ID = s.ID
		rec.CreatedAt = s.CreatedAt.UnixMilli()
		rec.LastActiveAt = s.LastActiveAt.UnixMilli()
		rec.AdapterKind = string(s.AdapterKind)
		rec.SandboxID = s.SandboxID
		rec.Config = cfg
		return nil
	})
	if err != nil {
		g.logSwallowed("saveSession", s.ID, err)
	}
	return nil
}

// LoadSession returns the persisted metadata for id, or nil if none.
func (g *Gateway) LoadSession(ctx context.Context, id string) (*core.Session, error) {
	var rec record
	if err := g.store.Get(ctx, sessionPath(id), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var cfg core.SessionConfig
	if len(rec.Config) > 0 {
		if err := json.Unmarshal(rec.Config, &cfg); err != nil {
			return nil, err
		}
	}
	return &core.Session{
		ID:           rec.ID,
		CreatedAt:    time.UnixMilli(rec.CreatedAt),
		LastActiveAt: time.UnixMilli(rec.LastActiveAt),
		AdapterKind:  core.AdapterKind(rec.AdapterKind),
		SandboxID:    rec.SandboxID,
		Config:       cfg,
	}, nil
}

// DeleteSession removes all durable state for id.
func (g *Gateway) DeleteSession(ctx context.Context, id string) error {
	if err := g.store.Delete(ctx, sessionPath(id)); err != nil {
		g.logSwallowed("deleteSession", id, err)
	}
	return nil
}

// ListSessions returns a summary of every persisted session.
func (g *Gateway) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	ids, err := g.store.List(ctx, []string{"sessions"})
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		var rec record
		if err := g.store.Get(ctx, sessionPath(id), &rec); err != nil {
			continue
		}
		out = append(out, SessionSummary{
			ID:           rec.ID,
			CreatedAt:    rec.CreatedAt,
			LastActiveAt: rec.LastActiveAt,
			AdapterKind:  rec.AdapterKind,
		})
	}
	return out, nil
}

// PersistMessages overwrites the persisted conversation for id.
func (g *Gateway) PersistMessages(ctx context.Context, id string, entries []core.ConversationEntry) error {
	wire := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		b, err := core.MarshalConversationEntry(e)
		if err != nil {
			return err
		}
		wire = append(wire, b)
	}
	var rec record
	err := g.store.Update(ctx, sessionPath(id), &rec, func() error {
		rec.ID = id
		rec.Messages = wire
		return nil
	})
	if err != nil {
		g.logSwallowed("persistMessages", id, err)
	}
	return nil
}

// LoadMessages returns the persisted conversation for id.
func (g *Gateway) LoadMessages(ctx context.Context, id string) ([]core.ConversationEntry, error) {
	var rec record
	if err := g.store.Get(ctx, sessionPath(id), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]core.ConversationEntry, 0, len(rec.Messages))
	for _, raw := range rec.Messages {
		e, err := core.UnmarshalConversationEntry(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// SaveExecutions merges the given executions and permissions into the
// session's persisted record, then writes it back atomically.
func (g *Gateway) SaveExecutions(ctx context.Context, sessionID string, executions map[string]*core.ToolExecution, permissions map[string]*core.PermissionRequest) error {
	var rec record
	err := g.store.Update(ctx, sessionPath(sessionID), &rec, func() error {
		rec.ID = sessionID
		if rec.Executions == nil {
			rec.Executions = make(map[string]executionRecord)
		}
		if rec.Permissions == nil {
			rec.Permissions = make(map[string]permissionRecord)
		}
		for id, e := range executions {
			rec.Executions[id] = toExecutionRecord(e)
		}
		for id, p := range permissions {
			rec.Permissions[id] = toPermissionRecord(p)
		}
		return nil
	})
	if err != nil {
		g.logSwallowed("saveExecutions", sessionID, err)
	}
	return nil
}

// LoadExecutions returns the persisted executions/permissions for a
// session, for use when a session is restored from disk.
func (g *Gateway) LoadExecutions(ctx context.Context, sessionID string) (map[string]*core.ToolExecution, map[string]*core.PermissionRequest, error) {
	var rec record
	if err := g.store.Get(ctx, sessionPath(sessionID), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	executions := make(map[string]*core.ToolExecution, len(rec.Executions))
	for id, e := range rec.Executions {
		executions[id] = fromExecutionRecord(e)
	}
	permissions := make(map[string]*core.PermissionRequest, len(rec.Permissions))
	for id, p := range rec.Permissions {
		permissions[id] = fromPermissionRecord(p)
	}
	return executions, permissions, nil
}

// SavePreviews merges the given previews into the session's persisted
// record.
func (g *Gateway) SavePreviews(ctx context.Context, sessionID string, previews map[string]*core.Preview) error {
	var rec record
	err := g.store.Update(ctx, sessionPath(sessionID), &rec, func() error {
		rec.ID = sessionID
		if rec.Previews == nil {
			rec.Previews = make(map[string]previewRecord)
		}
		for id, p := range previews {
			rec.Previews[id] = toPreviewRecord(p)
		}
		return nil
	})
	if err != nil {
		g.logSwallowed("savePreviews", sessionID, err)
	}
	return nil
}

// LoadPreviews returns the persisted previews for a session.
func (g *Gateway) LoadPreviews(ctx context.Context, sessionID string) (map[string]*core.Preview, error) {
	var rec record
	if err := g.store.Get(ctx, sessionPath(sessionID), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	previews := make(map[string]*core.Preview, len(rec.Previews))
	for id, p := range rec.Previews {
		previews[id] = fromPreviewRecord(p)
	}
	return previews, nil
}

func (g *Gateway) logSwallowed(op, sessionID string, err error) {
	g.logger.Error().Err(err).Str("op", op).Str("sessionId", sessionID).Msg("persistence I/O failed, continuing in-memory")
}
