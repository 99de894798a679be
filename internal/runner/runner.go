// Package runner implements the Agent Runner: the component that
// drives the agent state machine (internal/agentfsm), calls the LLM
// provider (internal/llm), dispatches tool calls through the Tool
// Registry (internal/toolkit) and Tool Execution Manager
// (internal/toolexec), and honours the process-wide abort signal
// (internal/abort) before every model call, before every tool
// dispatch, and while a tool is in flight.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentcore/internal/abort"
	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/agentfsm"
	"github.com/opencode-ai/agentcore/internal/corerr"
	"github.com/opencode-ai/agentcore/internal/eventbus"
	"github.com/opencode-ai/agentcore/internal/llm"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/opencode-ai/agentcore/internal/preview"
	"github.com/opencode-ai/agentcore/internal/toolexec"
	"github.com/opencode-ai/agentcore/internal/toolkit"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentcore/pkg/core"
)

// DefaultIterationCap is the default maximum number of tool rounds
// before a turn is cut off as a non-fatal overflow.
const DefaultIterationCap = 10

// Config configures a Runner.
type Config struct {
	IterationCap int // 0 means DefaultIterationCap
}

// Result is ProcessQuery's return value.
type Result struct {
	Response    string
	ToolResults []ToolResultSummary
	Aborted     bool
}

// ToolResultSummary reports one tool call's outcome for the turn.
type ToolResultSummary struct {
	ToolUseID string
	ToolID    string
	Value     any
	Err       string
	Aborted   bool
}

// Runner is the Agent Runner. One Runner is shared process-wide
// across sessions; per-turn state lives entirely on the stack of
// ProcessQuery plus the core.Session passed in.
type Runner struct {
	abortRegistry *abort.Registry
	tools         *toolkit.Registry
	execs         *toolexec.Manager
	previews      *preview.Manager
	gateway       *persistence.Gateway
	bus           *eventbus.Bus
	provider      llm.Provider
	logger        zerolog.Logger
	doomLoop      *permission.DoomLoopDetector
	iterationCap  int

	mu         sync.Mutex
	processing map[string]bool
}

// New constructs a Runner wired to its collaborators.
func New(
	abortRegistry *abort.Registry,
	tools *toolkit.Registry,
	execs *toolexec.Manager,
	previews *preview.Manager,
	gateway *persistence.Gateway,
	bus *eventbus.Bus,
	provider llm.Provider,
	logger zerolog.Logger,
	cfg Config,
) *Runner {
	cap := cfg.IterationCap
	if cap <= 0 {
		cap = DefaultIterationCap
	}
	return &Runner{
		abortRegistry: abortRegistry,
		tools:         tools,
		execs:         execs,
		previews:      previews,
		gateway:       gateway,
		bus:           bus,
		provider:      provider,
		logger:        logger.With().Str("component", "runner").Logger(),
		doomLoop:      permission.NewDoomLoopDetector(),
		iterationCap:  cap,
		processing:    make(map[string]bool),
	}
}

// tryStart atomically marks sessionID processing, returning false if it
// was already processing. At most one turn per session is in flight.
func (r *Runner) tryStart(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processing[sessionID] {
		return false
	}
	r.processing[sessionID] = true
	return true
}

func (r *Runner) finish(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processing, sessionID)
}

// IsProcessing reports whether sessionID currently has an in-flight turn.
func (r *Runner) IsProcessing(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processing[sessionID]
}

// ProcessQuery runs one full turn for sess. query is
// appended as a new user message unless empty (resuming a turn after
// e.g. a server restart is out of this core's scope, but an empty query
// lets callers re-drive an already-populated conversation in tests).
func (r *Runner) ProcessQuery(ctx context.Context, sess *core.Session, query string, env adapter.Adapter, facade toolkit.PermissionFacade) (Result, error) {
	if !r.tryStart(sess.ID) {
		return Result{}, corerr.New(corerr.KindAgentBusy, "session "+sess.ID+" already has a turn in flight")
	}
	defer r.finish(sess.ID)

	r.abortRegistry.Clear(sess.ID)
	sess.Processing = true
	sess.Touch(time.Now())
	r.emit(eventbus.ProcessingStarted, sess.ID)

	if r.abortRegistry.IsAborted(sess.ID) {
		sess.Processing = false
		r.emit(eventbus.ProcessingAborted, sess.ID)
		return Result{Aborted: true}, nil
	}

	abortCh, cancelToken := r.abortRegistry.Token(sess.ID)
	defer cancelToken()

	unsub := r.tools.OnComplete(func(id string, args json.RawMessage, result *toolkit.Result, durationMs int64) {
		r.logger.Debug().Str("sessionId", sess.ID).Str("tool", id).Int64("ms", durationMs).Msg("tool completed")
	})
	defer unsub()

	if query != "" {
		sess.Conversation = append(sess.Conversation, core.ConversationEntry{
			Role:  core.RoleUser,
			Parts: []core.Part{core.TextPart{Text: query}},
		})
	}

	result, err := r.loop(ctx, sess, env, facade, abortCh)

	sess.Processing = false
	sess.Touch(time.Now())
	_ = r.gateway.SaveSession(ctx, sess)
	_ = r.gateway.PersistMessages(ctx, sess.ID, sess.Conversation)
	r.execs.SaveSessionData(ctx, sess.ID)
	r.previews.SaveSessionData(ctx, sess.ID)
	r.emit(eventbus.SessionSaved, sess.ID)

	switch {
	case err != nil:
		r.emit(eventbus.ProcessingError, ProcessingErrorPayload{SessionID: sess.ID, Err: err.Error()})
	case result.Aborted:
		ts, _ := r.abortRegistry.AbortTimestamp(sess.ID)
		r.emit(eventbus.ProcessingAborted, ProcessingAbortedPayload{SessionID: sess.ID, Timestamp: ts})
	default:
		r.emit(eventbus.ProcessingCompleted, ProcessingCompletedPayload{SessionID: sess.ID, Response: result.Response})
	}
	return result, err
}

// ProcessingErrorPayload is the payload for processing:error events.
type ProcessingErrorPayload struct {
	SessionID string
	Err       string
}

// ProcessingCompletedPayload is the payload for processing:completed events.
type ProcessingCompletedPayload struct {
	SessionID string
	Response  string
}

// ProcessingAbortedPayload is the payload for processing:aborted events.
type ProcessingAbortedPayload struct {
	SessionID string
	Timestamp time.Time
}

func (r *Runner) emit(topic eventbus.Topic, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(eventbus.Event{Topic: topic, Payload: payload})
}

// loop drives the FSM through LLM/tool rounds until a terminal state or
// the iteration cap.
func (r *Runner) loop(ctx context.Context, sess *core.Session, env adapter.Adapter, facade toolkit.PermissionFacade, abortCh <-chan struct{}) (Result, error) {
	state := agentfsm.Idle
	var err error
	state, err = agentfsm.Transition(state, agentfsm.Event{Kind: agentfsm.UserMessage})
	if err != nil {
		return Result{}, err
	}

	var toolResults []ToolResultSummary

	for round := 0; ; round++ {
		if r.observeAbort(abortCh) {
			return r.unwindAborted(sess, toolResults), nil
		}

		if round >= r.iterationCap {
			return Result{
				Response:    fmt.Sprintf("stopped after reaching the %d tool-round limit for this turn", r.iterationCap),
				ToolResults: toolResults,
			}, nil
		}

		r.maybeCompact(ctx, sess)

		resp, err := r.callModel(ctx, sess, abortCh)
		if err != nil {
			if corerr.Is(err, corerr.KindAbort) {
				return r.unwindAborted(sess, toolResults), nil
			}
			return Result{}, err
		}

		if len(resp.ToolCalls) > 0 {
			var useParts []core.Part
			for _, tc := range resp.ToolCalls {
				useParts = append(useParts, core.ToolUsePart{PairingID: tc.ToolUseID, ToolName: tc.ToolID, Args: tc.Args})
			}
			sess.Conversation = append(sess.Conversation, core.ConversationEntry{Role: core.RoleAssistant, Parts: useParts})

			for _, tc := range resp.ToolCalls {
				state, err = agentfsm.Transition(state, agentfsm.Event{Kind: agentfsm.ModelToolCall, ToolUseID: tc.ToolUseID})
				if err != nil {
					return Result{}, err
				}
				if r.observeAbort(abortCh) {
					sess.Conversation = append(sess.Conversation, syntheticAbortEntry(resp.ToolCalls, tc.ToolUseID))
					return r.unwindAborted(sess, toolResults), nil
				}
				summary := r.dispatchTool(ctx, sess, env, facade, tc, abortCh)
				toolResults = append(toolResults, summary)
				sess.Conversation = append(sess.Conversation, core.ConversationEntry{
					Role:  core.RoleAssistant,
					Parts: []core.Part{toolResultPart(summary)},
				})
				state, err = agentfsm.Transition(state, agentfsm.Event{Kind: agentfsm.ToolFinished})
				if err != nil {
					return Result{}, err
				}
				if summary.Aborted && r.abortRegistry.IsAborted(sess.ID) {
					return r.unwindAborted(sess, toolResults), nil
				}
			}
			continue
		}

		state, err = agentfsm.Transition(state, agentfsm.Event{Kind: agentfsm.ModelFinal})
		if err != nil {
			return Result{}, err
		}
		sess.Conversation = append(sess.Conversation, core.ConversationEntry{
			Role:  core.RoleAssistant,
			Parts: []core.Part{core.TextPart{Text: resp.FinalText}},
		})
		return Result{Response: resp.FinalText, ToolResults: toolResults}, nil
	}
}

func syntheticAbortEntry(calls []llm.ToolCall, fromID string) core.ConversationEntry {
	var parts []core.Part
	seen := false
	for _, tc := range calls {
		if tc.ToolUseID == fromID {
			seen = true
		}
		if seen {
			parts = append(parts, core.ToolResultPart{PairingID: tc.ToolUseID, Aborted: true})
		}
	}
	return core.ConversationEntry{Role: core.RoleAssistant, Parts: parts}
}

func toolResultPart(s ToolResultSummary) core.Part {
	return core.ToolResultPart{PairingID: s.ToolUseID, Value: s.Value, Error: s.Err, Aborted: s.Aborted}
}

// observeAbort is the non-blocking abort check performed before every
// LLM call and tool dispatch.
func (r *Runner) observeAbort(abortCh <-chan struct{}) bool {
	select {
	case <-abortCh:
		return true
	default:
		return false
	}
}

// unwindAborted synthesizes {aborted:true} tool-results for every
// tool-use part still unpaired in the conversation, so an aborted turn
// never leaves a tool-use without a matching result, and returns the
// aborted Result.
func (r *Runner) unwindAborted(sess *core.Session, toolResults []ToolResultSummary) Result {
	pending := core.PendingToolUseIDs(sess.Conversation)
	if len(pending) > 0 {
		var parts []core.Part
		for _, id := range pending {
			parts = append(parts, core.ToolResultPart{PairingID: id, Aborted: true})
			toolResults = append(toolResults, ToolResultSummary{ToolUseID: id, Aborted: true})
		}
		sess.Conversation = append(sess.Conversation, core.ConversationEntry{Role: core.RoleAssistant, Parts: parts})
	}
	return Result{Aborted: true, ToolResults: toolResults}
}

// callModel invokes the LLM provider with exponential backoff + jitter,
// racing the call against abortCh so a hung or slow-to-cancel provider
// never delays an abort past its own cancellation latency.
func (r *Runner) callModel(ctx context.Context, sess *core.Session, abortCh <-chan struct{}) (llm.Response, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-abortCh:
			cancel()
		case <-callCtx.Done():
		}
	}()

	var resp llm.Response
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), callCtx)
	op := func() error {
		var err error
		resp, err = r.provider.CallModel(callCtx, llm.Request{
			Messages: sess.Conversation,
			Model:    sess.Config.Model,
			Caching:  sess.Config.CachingEnabled,
			Tools:    r.toolSchemas(),
		})
		if err != nil && corerr.Is(err, corerr.KindAbort) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		if r.observeAbort(abortCh) {
			return llm.Response{}, corerr.AbortError
		}
		return llm.Response{}, corerr.Wrap(corerr.KindToolExecution, "model call failed", err)
	}
	return resp, nil
}

func (r *Runner) toolSchemas() []llm.ToolSchema {
	defs := r.tools.List()
	out := make([]llm.ToolSchema, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolSchema{ID: d.ID, Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

// dispatchTool runs one tool call end to end: create the ToolExecution,
// gate it behind permission if required, run it through the Tool
// Registry with an abort-racing guard, and record its outcome. The
// caller pairs the returned summary into the conversation no matter
// how the call ends.
func (r *Runner) dispatchTool(ctx context.Context, sess *core.Session, env adapter.Adapter, facade toolkit.PermissionFacade, tc llm.ToolCall, abortCh <-chan struct{}) ToolResultSummary {
	def, ok := r.tools.Get(tc.ToolID)
	if !ok {
		return ToolResultSummary{ToolUseID: tc.ToolUseID, ToolID: tc.ToolID, Err: "unknown tool: " + tc.ToolID}
	}

	exec := r.execs.Create(sess.ID, def.ID, def.Name, tc.Args)
	r.execs.SetParamsNote(exec.ID, summarizeArgs(tc.Args))

	if def.ID == "bash" {
		if action, ok := r.bashAction(sess, tc); ok {
			switch action {
			case permission.ActionAllow:
				_ = r.execs.Start(exec.ID)
				return r.runGuarded(ctx, sess, env, facade, exec.ID, def, tc, abortCh)
			case permission.ActionDeny:
				// CREATED has no edge to ABORTED, so pass through RUNNING.
				_ = r.execs.Start(exec.ID)
				_ = r.execs.Abort(exec.ID)
				return ToolResultSummary{ToolUseID: tc.ToolUseID, ToolID: tc.ToolID, Aborted: true, Err: "denied by bash permission policy"}
			}
		}
	}

	if r.requiresPermission(def, sess, tc) {
		granted := r.gatePermission(exec, sess, def, tc, abortCh)
		if !granted {
			_ = r.execs.Abort(exec.ID)
			return ToolResultSummary{ToolUseID: tc.ToolUseID, ToolID: tc.ToolID, Aborted: true}
		}
	} else {
		_ = r.execs.Start(exec.ID)
	}

	return r.runGuarded(ctx, sess, env, facade, exec.ID, def, tc, abortCh)
}

// bashAction resolves a bash tool call against the session's configured
// wildcard permission patterns. Returns ok=false when the session
// carries no bash policy, in which case the caller falls through to
// the ordinary gating rule.
func (r *Runner) bashAction(sess *core.Session, tc llm.ToolCall) (permission.PermissionAction, bool) {
	if len(sess.Config.BashPermissions) == 0 {
		return "", false
	}
	command, _ := tc.Args["command"].(string)
	if command == "" {
		return "", false
	}
	patterns := make(map[string]permission.PermissionAction, len(sess.Config.BashPermissions))
	for pattern, action := range sess.Config.BashPermissions {
		patterns[pattern] = permission.PermissionAction(action)
	}
	cmds := permission.ParseBashCommand(command)
	if len(cmds) == 0 {
		return "", false
	}
	action := permission.MatchBashPermission(cmds[0], patterns)
	if action == permission.ActionAsk {
		return "", false // fall through to the ordinary gating rule
	}
	return action, true
}

// requiresPermission applies the gating rule: the tool's own flag,
// minus auto permission mode, pre-allowed tool ids, and fast-edit mode
// (unless the tool always requires it).
func (r *Runner) requiresPermission(def *toolkit.Definition, sess *core.Session, tc llm.ToolCall) bool {
	if !def.RequiresPermission {
		return false
	}
	if sess.Config.PermissionMode == core.PermissionAuto {
		return false
	}
	for _, id := range sess.Config.PreAllowedTools {
		if id == def.ID {
			return false
		}
	}
	if sess.Config.FastEditMode && !def.AlwaysRequiresPermission {
		return false
	}
	return true
}

func (r *Runner) gatePermission(exec *core.ToolExecution, sess *core.Session, def *toolkit.Definition, tc llm.ToolCall, abortCh <-chan struct{}) bool {
	req, err := r.execs.RequestPermission(exec.ID, tc.Args)
	if err != nil {
		return false
	}
	if r.doomLoop.Check(sess.ID, def.ID, tc.Args) {
		r.execs.AnnotatePermission(req.ID, map[string]any{"doomLoopEscalated": true})
	}
	return r.execs.AwaitPermission(req.ID, abortCh)
}

// runGuarded runs the tool through the registry, racing it against
// abortCh so an executor that ignores the abort signal cannot deadlock
// the runner: the tool's eventual result is discarded if abort wins
// the race.
func (r *Runner) runGuarded(ctx context.Context, sess *core.Session, env adapter.Adapter, facade toolkit.PermissionFacade, executionID string, def *toolkit.Definition, tc llm.ToolCall, abortCh <-chan struct{}) ToolResultSummary {
	argsJSON, _ := json.Marshal(tc.Args)
	ec := &toolkit.ExecContext{
		SessionID:   sess.ID,
		ExecutionID: executionID,
		Logger:      &r.logger,
		Adapter:     env,
		Permission:  facade,
		AbortCh:     abortCh,
		Registry:    r.tools,
	}

	type outcome struct {
		result *toolkit.Result
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := r.tools.Execute(ctx, def.ID, argsJSON, ec)
		done <- outcome{res, err}
	}()

	select {
	case <-abortCh:
		_ = r.execs.Abort(executionID)
		return ToolResultSummary{ToolUseID: tc.ToolUseID, ToolID: tc.ToolID, Aborted: true}
	case out := <-done:
		durationMs := time.Since(start).Milliseconds()
		if out.err != nil {
			if corerr.Is(out.err, corerr.KindAbort) {
				_ = r.execs.Abort(executionID)
				return ToolResultSummary{ToolUseID: tc.ToolUseID, ToolID: tc.ToolID, Aborted: true}
			}
			_ = r.execs.Fail(executionID, out.err)
			return ToolResultSummary{ToolUseID: tc.ToolUseID, ToolID: tc.ToolID, Err: out.err.Error()}
		}
		_ = r.execs.Complete(executionID, out.result.Output, durationMs)
		if out.result.PreviewBrief != "" {
			p := r.previews.CreatePreview(sess.ID, executionID, def.ID, out.result.PreviewBrief, out.result.PreviewFull, out.result.Metadata)
			r.execs.AttachPreview(executionID, p.ID)
		}
		return ToolResultSummary{ToolUseID: tc.ToolUseID, ToolID: tc.ToolID, Value: out.result.Output}
	}
}

func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	if len(b) > 120 {
		return string(b[:120]) + "…"
	}
	return string(b)
}

// NewPairingID generates a fresh tool-use pairing id, for callers
// (tests, the task subagent tool) that need to construct llm.ToolCall
// values outside of a real provider response.
func NewPairingID() string { return ulid.Make().String() }
