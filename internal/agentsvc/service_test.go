package agentsvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/internal/abort"
	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/adapter/local"
	"github.com/opencode-ai/agentcore/internal/corerr"
	"github.com/opencode-ai/agentcore/internal/eventbus"
	"github.com/opencode-ai/agentcore/internal/llm"
	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/opencode-ai/agentcore/internal/preview"
	"github.com/opencode-ai/agentcore/internal/runner"
	"github.com/opencode-ai/agentcore/internal/sessionmgr"
	"github.com/opencode-ai/agentcore/internal/toolexec"
	"github.com/opencode-ai/agentcore/internal/toolkit"
	"github.com/opencode-ai/agentcore/pkg/core"
)

// countingFactory records builds and hands back a nil adapter; the tools
// registered by these tests never touch it.
type countingFactory struct {
	mu     sync.Mutex
	builds int
}

func (f *countingFactory) Build(ctx context.Context, kind core.AdapterKind, sandboxID, workDir string) (adapter.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	return nil, nil
}

func (f *countingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

type harness struct {
	svc      *Service
	bus      *eventbus.Bus
	sessions *sessionmgr.Manager
	execs    *toolexec.Manager
	reg      *abort.Registry
	tools    *toolkit.Registry
	factory  *countingFactory
}

func newHarness(t *testing.T, provider llm.Provider) *harness {
	return newHarnessWithFactory(t, provider, &countingFactory{})
}

func newHarnessWithFactory(t *testing.T, provider llm.Provider, factory AdapterFactory) *harness {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(func() { _ = bus.Close() })
	gw := persistence.New(t.TempDir(), zerolog.Nop())
	reg := abort.New(bus)
	execs := toolexec.New(bus, gw)
	prevs := preview.New(gw)
	tools := toolkit.NewRegistry()
	sessions := sessionmgr.New(sessionmgr.Config{MaxSessions: 10}, reg, gw, bus, zerolog.Nop())
	t.Cleanup(sessions.Stop)
	run := runner.New(reg, tools, execs, prevs, gw, bus, provider, zerolog.Nop(), runner.Config{})
	svc := New(Config{
		Sessions: sessions,
		Execs:    execs,
		Previews: prevs,
		Gateway:  gw,
		Runner:   run,
		AbortReg: reg,
		Bus:      bus,
		Adapters: factory,
		Logger:   zerolog.Nop(),
		WorkDir:  t.TempDir(),
	}, tools)
	h := &harness{svc: svc, bus: bus, sessions: sessions, execs: execs, reg: reg, tools: tools}
	if cf, ok := factory.(*countingFactory); ok {
		h.factory = cf
	}
	return h
}

func TestStartSessionAndProcessQuery(t *testing.T) {
	h := newHarness(t, llm.Stub{Text: "Hi"})

	sess := h.svc.StartSession(core.SessionConfig{PermissionMode: core.PermissionAuto}, core.AdapterLocal, "")
	require.NotEmpty(t, sess.ID)

	result, err := h.svc.ProcessQuery(context.Background(), sess.ID, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi", result.Response)
	assert.False(t, result.Aborted)

	history, err := h.svc.GetHistory(sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
}

func TestProcessQueryUnknownSession(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	_, err := h.svc.ProcessQuery(context.Background(), "nope", "Hello")
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.KindSessionNotFound))
}

func TestTaskToolIsRegistered(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	_, ok := h.tools.Get("task")
	assert.True(t, ok)
}

func TestToggleFastEditModeEmitsEvents(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	sess := h.svc.StartSession(core.SessionConfig{}, core.AdapterLocal, "")

	var topics []eventbus.Topic
	var mu sync.Mutex
	h.bus.OnAll(func(ev eventbus.Event) {
		mu.Lock()
		topics = append(topics, ev.Topic)
		mu.Unlock()
	})

	require.NoError(t, h.svc.ToggleFastEditMode(sess.ID, true))
	got, err := h.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Config.FastEditMode)

	require.NoError(t, h.svc.ToggleFastEditMode(sess.ID, false))
	got, err = h.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Config.FastEditMode)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, topics, eventbus.FastEditEnabled)
	assert.Contains(t, topics, eventbus.FastEditDisabled)
}

// blockingProvider parks every model call until released, so tests can
// observe a turn mid-flight.
type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProvider) CallModel(ctx context.Context, req llm.Request) (llm.Response, error) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	select {
	case <-p.release:
		return llm.Response{FinalText: "late"}, nil
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	}
}

func TestAbortOperationUnwindsInFlightTurn(t *testing.T) {
	provider := &blockingProvider{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, provider)
	defer close(provider.release)

	sess := h.svc.StartSession(core.SessionConfig{PermissionMode: core.PermissionAuto}, core.AdapterLocal, "")

	aborted := make(chan runner.ProcessingAbortedPayload, 2)
	h.bus.On(eventbus.ProcessingAborted, func(ev eventbus.Event) {
		if p, ok := ev.Payload.(runner.ProcessingAbortedPayload); ok {
			aborted <- p
		}
	})

	done := make(chan runner.Result, 1)
	go func() {
		result, _ := h.svc.ProcessQuery(context.Background(), sess.ID, "long question")
		done <- result
	}()

	select {
	case <-provider.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("model call never started")
	}

	require.NoError(t, h.svc.AbortOperation(sess.ID))

	select {
	case result := <-done:
		assert.True(t, result.Aborted)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not unwind after abort")
	}

	select {
	case payload := <-aborted:
		assert.Equal(t, sess.ID, payload.SessionID)
		assert.False(t, payload.Timestamp.IsZero())
	default:
		t.Fatal("processing:aborted was not emitted")
	}
	assert.False(t, h.svc.IsProcessing(sess.ID))
}

func TestAbortOperationAbortsActiveExecutions(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	sess := h.svc.StartSession(core.SessionConfig{}, core.AdapterLocal, "")

	exec := h.execs.Create(sess.ID, "bash", "Bash", nil)
	require.NoError(t, h.execs.Start(exec.ID))

	require.NoError(t, h.svc.AbortOperation(sess.ID))

	got := h.execs.ExecutionsForSession(sess.ID)
	require.Len(t, got, 1)
	assert.Equal(t, core.StatusAborted, got[0].Status)
	assert.True(t, h.reg.IsAborted(sess.ID))
}

func TestResolvePermissionRoutesThroughManager(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	sess := h.svc.StartSession(core.SessionConfig{}, core.AdapterLocal, "")

	exec := h.execs.Create(sess.ID, "write", "Write", nil)
	req, err := h.execs.RequestPermission(exec.ID, map[string]any{"path": "a"})
	require.NoError(t, err)

	require.NoError(t, h.svc.ResolvePermission(req.ID, true))

	got := h.execs.ExecutionsForSession(sess.ID)[0]
	assert.Equal(t, core.StatusRunning, got.Status)

	permission, ok := h.execs.PermissionForExecution(exec.ID)
	require.True(t, ok)
	assert.True(t, permission.Resolved)
	assert.True(t, permission.Granted)
}

func TestResolveByExecutionID(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	sess := h.svc.StartSession(core.SessionConfig{}, core.AdapterLocal, "")

	exec := h.execs.Create(sess.ID, "write", "Write", nil)
	_, err := h.execs.RequestPermission(exec.ID, nil)
	require.NoError(t, err)

	require.NoError(t, h.svc.ResolveByExecutionID(exec.ID, false))
	got := h.execs.ExecutionsForSession(sess.ID)[0]
	assert.Equal(t, core.StatusAborted, got.Status)
}

func TestSetAdapterKindDropsCachedAdapter(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	// Create directly on the manager so no background adapter build races
	// with the counts below.
	sess := h.sessions.Create(core.SessionConfig{PermissionMode: core.PermissionAuto})
	sess.AdapterKind = core.AdapterLocal

	_, err := h.svc.ProcessQuery(context.Background(), sess.ID, "one")
	require.NoError(t, err)
	assert.Equal(t, 1, h.factory.count())

	require.NoError(t, h.svc.SetAdapterKind(sess.ID, core.AdapterContainer))

	_, err = h.svc.ProcessQuery(context.Background(), sess.ID, "two")
	require.NoError(t, err)
	assert.Equal(t, 2, h.factory.count())
}

func TestSetSandboxID(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	sess := h.svc.StartSession(core.SessionConfig{}, core.AdapterRemote, "")

	require.NoError(t, h.svc.SetSandboxID(sess.ID, "sbx-42"))
	got, err := h.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "sbx-42", got.SandboxID)
}

// localFactory hands out real local adapters so status forwarding can
// be observed end to end.
type localFactory struct{ dir string }

func (f *localFactory) Build(ctx context.Context, kind core.AdapterKind, sandboxID, workDir string) (adapter.Adapter, error) {
	return local.New(f.dir), nil
}

func TestEnvironmentStatusForwarded(t *testing.T) {
	h := newHarnessWithFactory(t, llm.Stub{}, &localFactory{dir: t.TempDir()})

	events := make(chan EnvironmentStatusPayload, 8)
	h.bus.On(eventbus.EnvironmentStatusChanged, func(ev eventbus.Event) {
		if p, ok := ev.Payload.(EnvironmentStatusPayload); ok {
			events <- p
		}
	})

	sess := h.svc.StartSession(core.SessionConfig{}, core.AdapterLocal, "")

	select {
	case p := <-events:
		assert.Equal(t, sess.ID, p.SessionID)
		assert.NotEmpty(t, p.Event.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no environment status event was forwarded")
	}
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	h := newHarness(t, llm.Stub{})
	sess := h.svc.StartSession(core.SessionConfig{}, core.AdapterLocal, "")
	h.execs.Create(sess.ID, "bash", "Bash", nil)

	require.NoError(t, h.svc.DeleteSession(sess.ID))

	_, err := h.sessions.Get(sess.ID)
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.KindSessionNotFound))
}
