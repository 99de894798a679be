// Package agentsvc implements the Agent Service: a per-session facade
// layered on the Tool Execution Manager (internal/toolexec), Agent
// Runner (internal/runner), and Session Manager (internal/sessionmgr).
// It is the only component that knows about all three —
// internal/sessionmgr stays ignorant of this package, so no cyclic
// reference forms between the session store and the service that
// drives it.
package agentsvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentcore/internal/abort"
	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/corerr"
	"github.com/opencode-ai/agentcore/internal/eventbus"
	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/opencode-ai/agentcore/internal/preview"
	"github.com/opencode-ai/agentcore/internal/runner"
	"github.com/opencode-ai/agentcore/internal/sessionmgr"
	"github.com/opencode-ai/agentcore/internal/toolexec"
	"github.com/opencode-ai/agentcore/internal/toolkit"
	"github.com/opencode-ai/agentcore/pkg/core"
)

// AdapterFactory builds an Execution Adapter for a session's configured
// kind/sandbox id. Kept as an injected interface rather than a concrete
// constructor so agentsvc stays free of Docker-client/Daytona-config
// wiring details — cmd/agentcored supplies the concrete factory.
type AdapterFactory interface {
	Build(ctx context.Context, kind core.AdapterKind, sandboxID, workDir string) (adapter.Adapter, error)
}

// Service is the Agent Service.
type Service struct {
	sessions *sessionmgr.Manager
	execs    *toolexec.Manager
	previews *preview.Manager
	gateway  *persistence.Gateway
	run      *runner.Runner
	abortR   *abort.Registry
	bus      *eventbus.Bus
	adapters AdapterFactory
	logger   zerolog.Logger
	workDir  string

	mu             sync.Mutex
	sessionAdapter map[string]adapter.Adapter
}

// Config is the set of collaborators a Service is built from.
type Config struct {
	Sessions *sessionmgr.Manager
	Execs    *toolexec.Manager
	Previews *preview.Manager
	Gateway  *persistence.Gateway
	Runner   *runner.Runner
	AbortReg *abort.Registry
	Bus      *eventbus.Bus
	Adapters AdapterFactory
	Logger   zerolog.Logger
	WorkDir  string
}

// New constructs a Service and registers the `task` subagent tool on
// the shared Tool Registry, wired back to the
// Service's own ProcessQuery so subagent tasks reuse the same
// Runner/ToolExecutionManager/SessionManager stack rather than a
// parallel one.
func New(cfg Config, tools *toolkit.Registry) *Service {
	s := &Service{
		sessions:       cfg.Sessions,
		execs:          cfg.Execs,
		previews:       cfg.Previews,
		gateway:        cfg.Gateway,
		run:            cfg.Runner,
		abortR:         cfg.AbortReg,
		bus:            cfg.Bus,
		adapters:       cfg.Adapters,
		logger:         cfg.Logger.With().Str("component", "agentsvc").Logger(),
		workDir:        cfg.WorkDir,
		sessionAdapter: make(map[string]adapter.Adapter),
	}
	tools.Register(runner.BuildTaskDefinition(s.spawnSubagent))
	return s
}

// StartSession creates a session and fires off adapter construction and
// any persisted tool-execution/preview restore in the background,
// returning immediately.
func (s *Service) StartSession(config core.SessionConfig, adapterKind core.AdapterKind, sandboxID string) *core.Session {
	sess := s.sessions.Create(config)
	sess.AdapterKind = adapterKind
	sess.SandboxID = sandboxID

	go func() {
		ctx := context.Background()
		env, err := s.adapters.Build(ctx, adapterKind, sandboxID, s.workDir)
		if err != nil {
			s.logger.Error().Err(err).Str("sessionId", sess.ID).Msg("adapter construction failed")
			return
		}
		s.mu.Lock()
		s.sessionAdapter[sess.ID] = env
		s.mu.Unlock()
		s.forwardStatus(sess.ID, env)

		if err := s.execs.LoadSessionData(ctx, sess.ID); err != nil {
			s.logger.Error().Err(err).Str("sessionId", sess.ID).Msg("tool-execution restore failed")
		}
		if err := s.previews.LoadSessionData(ctx, sess.ID); err != nil {
			s.logger.Error().Err(err).Str("sessionId", sess.ID).Msg("preview restore failed")
		}
		s.emit(eventbus.SessionLoaded, sess.ID)
	}()

	return sess
}

// EnvironmentStatusPayload is the payload of environment_status_changed
// events: the adapter's coalesced status event tagged with its session.
type EnvironmentStatusPayload struct {
	SessionID string
	Event     adapter.StatusEvent
}

// forwardStatus republishes an adapter's coalesced status stream onto
// the event bus until the adapter closes it.
func (s *Service) forwardStatus(sessionID string, env adapter.Adapter) {
	if env == nil {
		return
	}
	go func() {
		for ev := range env.Status() {
			s.emit(eventbus.EnvironmentStatusChanged, EnvironmentStatusPayload{SessionID: sessionID, Event: ev})
		}
	}()
}

// adapterFor returns the constructed adapter for sessionID, building one
// synchronously if StartSession's background construction has not
// finished yet (e.g. ProcessQuery called immediately after StartSession
// in a test without a background scheduler).
func (s *Service) adapterFor(ctx context.Context, sess *core.Session) (adapter.Adapter, error) {
	s.mu.Lock()
	env, ok := s.sessionAdapter[sess.ID]
	s.mu.Unlock()
	if ok {
		return env, nil
	}
	env, err := s.adapters.Build(ctx, sess.AdapterKind, sess.SandboxID, s.workDir)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindAdapterUnavailable, "adapter unavailable", err)
	}
	s.mu.Lock()
	s.sessionAdapter[sess.ID] = env
	s.mu.Unlock()
	s.forwardStatus(sess.ID, env)
	return env, nil
}

// permissionFacade adapts toolexec.Manager's AwaitPermission into the
// toolkit.PermissionFacade contract an executor can consult mid-run.
type permissionFacade struct {
	execs *toolexec.Manager
}

func (f permissionFacade) Granted(ctx context.Context, executionID string) (bool, error) {
	req, ok := f.execs.PermissionForExecution(executionID)
	if !ok {
		return true, nil
	}
	return f.execs.AwaitPermission(req.ID, ctx.Done()), nil
}

// ProcessQuery starts a turn for sessionID: enforces the busy rule,
// resolves the session's adapter, and delegates to the Agent Runner.
func (s *Service) ProcessQuery(ctx context.Context, sessionID, query string) (runner.Result, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return runner.Result{}, err
	}
	if s.run.IsProcessing(sessionID) {
		return runner.Result{}, corerr.New(corerr.KindAgentBusy, "session "+sessionID+" is already processing")
	}
	env, err := s.adapterFor(ctx, sess)
	if err != nil {
		return runner.Result{}, err
	}
	return s.run.ProcessQuery(ctx, sess, query, env, permissionFacade{s.execs})
}

// ResolvePermission resolves a pending permission request.
func (s *Service) ResolvePermission(permissionID string, granted bool) error {
	return s.execs.ResolvePermission(permissionID, granted)
}

// ResolveByExecutionID resolves the permission request attached to an
// execution id, if any.
func (s *Service) ResolveByExecutionID(executionID string, granted bool) error {
	return s.execs.ResolveByExecutionID(executionID, granted)
}

// AbortOperation marks sessionID aborted, aborts any of its active
// ToolExecutions, and emits processing:aborted.
func (s *Service) AbortOperation(sessionID string) error {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	ts := s.abortR.MarkAborted(sessionID)
	for _, exec := range s.execs.ExecutionsForSession(sessionID) {
		if !exec.Status.IsTerminal() {
			_ = s.execs.Abort(exec.ID)
		}
	}
	_ = s.sessions.Update(sessionID, func(sess *core.Session) { sess.Processing = false })
	s.emit(eventbus.ProcessingAborted, runner.ProcessingAbortedPayload{SessionID: sess.ID, Timestamp: ts})
	return nil
}

// ToggleFastEditMode flips a session's fast-edit flag and emits
// fast_edit_mode_enabled/disabled.
func (s *Service) ToggleFastEditMode(sessionID string, enabled bool) error {
	if err := s.sessions.Update(sessionID, func(sess *core.Session) { sess.Config.FastEditMode = enabled }); err != nil {
		return err
	}
	topic := eventbus.FastEditDisabled
	if enabled {
		topic = eventbus.FastEditEnabled
	}
	s.emit(topic, sessionID)
	return nil
}

// SetAdapterKind changes a session's backend and drops any cached
// adapter so the next ProcessQuery rebuilds it lazily.
func (s *Service) SetAdapterKind(sessionID string, kind core.AdapterKind) error {
	if err := s.sessions.Update(sessionID, func(sess *core.Session) { sess.AdapterKind = kind }); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessionAdapter, sessionID)
	s.mu.Unlock()
	return nil
}

// SetSandboxID sets a session's remote sandbox id, used only when
// AdapterKind is remote.
func (s *Service) SetSandboxID(sessionID, sandboxID string) error {
	return s.sessions.Update(sessionID, func(sess *core.Session) { sess.SandboxID = sandboxID })
}

// GetHistory returns a session's conversation entries.
func (s *Service) GetHistory(sessionID string) ([]core.ConversationEntry, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Conversation, nil
}

// IsProcessing reports whether sessionID has an in-flight turn.
func (s *Service) IsProcessing(sessionID string) bool {
	return s.run.IsProcessing(sessionID)
}

// DeleteSession removes a session from the cache and its durable state.
func (s *Service) DeleteSession(sessionID string) error {
	s.mu.Lock()
	delete(s.sessionAdapter, sessionID)
	s.mu.Unlock()
	s.execs.DeleteSessionData(context.Background(), sessionID)
	if err := s.sessions.Delete(sessionID); err != nil {
		return err
	}
	s.emit(eventbus.SessionDeleted, sessionID)
	return nil
}

// ListPersistedSessions returns every durably-stored session summary,
// including ones evicted from the in-memory cache.
func (s *Service) ListPersistedSessions(ctx context.Context) ([]persistence.SessionSummary, error) {
	return s.gateway.ListSessions(ctx)
}

func (s *Service) emit(topic eventbus.Topic, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(eventbus.Event{Topic: topic, Payload: payload})
}

// spawnSubagent implements runner.SpawnFunc: it creates a child session
// in auto permission mode with the Session Manager's default (local)
// adapter kind, since the parent session is not passed in, runs it to
// completion through this same Service, and tears it down once the
// subagent task returns.
func (s *Service) spawnSubagent(ctx context.Context, description, prompt string) (string, error) {
	child := s.sessions.Create(core.SessionConfig{PermissionMode: core.PermissionAuto})
	defer func() { _ = s.DeleteSession(child.ID) }()

	env, err := s.adapterFor(ctx, child)
	if err != nil {
		return "", err
	}
	result, err := s.run.ProcessQuery(ctx, child, prompt, env, permissionFacade{s.execs})
	if err != nil {
		return "", err
	}
	if result.Aborted {
		return "", fmt.Errorf("subagent task %q was aborted", description)
	}
	return result.Response, nil
}
