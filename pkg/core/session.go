// Package core holds the shared data model used across the agent core:
// sessions, conversation entries, tool executions, permission requests
// and previews. It has no behavior of its own — every mutation is owned
// by the component responsible for that entity (see the package docs in
// internal/sessionmgr, internal/toolexec, internal/preview).
package core

import "time"

// AdapterKind selects which Execution Adapter backend a session uses.
type AdapterKind string

const (
	AdapterLocal     AdapterKind = "local"
	AdapterContainer AdapterKind = "container"
	AdapterRemote    AdapterKind = "remote"
)

// PermissionMode controls how the runner gates permission-requiring tools.
type PermissionMode string

const (
	PermissionAuto        PermissionMode = "auto"
	PermissionInteractive PermissionMode = "interactive"
)

// SessionConfig is the per-session configuration captured at creation
// time.
type SessionConfig struct {
	Model           string
	CachingEnabled  bool
	PermissionMode  PermissionMode
	PreAllowedTools []string
	FastEditMode    bool

	// BashPermissions holds wildcard-pattern overrides for the bash tool
	// specifically (e.g. "git *": "allow", "rm *": "deny"), consulted by
	// the Agent Runner ahead of its general permission gate. Kept here as
	// plain strings rather than internal/permission.PermissionAction so
	// this package stays free of a dependency on that one.
	BashPermissions map[string]string
}

// Session is the top-level conversational unit tracked by the Session
// Manager. It owns its Conversation history directly; ToolExecutions
// and PermissionRequests are tracked separately by the Tool Execution
// Manager and only referenced here by id through the conversation's
// tool-use/tool-result parts.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	Processing   bool

	Conversation []ConversationEntry

	AdapterKind  AdapterKind
	SandboxID    string // set only when AdapterKind == AdapterRemote
	Config       SessionConfig
}

// Touch bumps LastActiveAt to now. Called on every mutation.
func (s *Session) Touch(now time.Time) {
	s.LastActiveAt = now
}

// Clone returns a deep-enough copy of the session for safe handoff across
// goroutine boundaries (LRU eviction, persistence snapshots). Conversation
// parts themselves are treated as immutable once appended, so a shallow
// copy of the slice header is sufficient.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Conversation = append([]ConversationEntry(nil), s.Conversation...)
	clone.Config.PreAllowedTools = append([]string(nil), s.Config.PreAllowedTools...)
	return &clone
}
