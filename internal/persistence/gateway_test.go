package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/pkg/core"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	return New(t.TempDir(), zerolog.Nop())
}

func TestSaveAndLoadSessionRoundTrips(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	s := &core.Session{
		ID:           "sess-1",
		CreatedAt:    time.UnixMilli(1000),
		LastActiveAt: time.UnixMilli(2000),
		AdapterKind:  core.AdapterLocal,
		Config:       core.SessionConfig{Model: "test-model"},
	}
	require.NoError(t, g.SaveSession(ctx, s))

	loaded, err := g.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "sess-1", loaded.ID)
	assert.Equal(t, core.AdapterLocal, loaded.AdapterKind)
	assert.Equal(t, "test-model", loaded.Config.Model)
}

func TestLoadSessionMissingReturnsNil(t *testing.T) {
	g := newTestGateway(t)
	loaded, err := g.LoadSession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveExecutionsPreservesMessages(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	entries := []core.ConversationEntry{
		{Role: core.RoleUser, Parts: []core.Part{core.TextPart{Text: "hi"}}},
	}
	require.NoError(t, g.PersistMessages(ctx, "sess-1", entries))

	exec := &core.ToolExecution{ID: "exec-1", SessionID: "sess-1", ToolID: "bash", Status: core.StatusCompleted}
	require.NoError(t, g.SaveExecutions(ctx, "sess-1", map[string]*core.ToolExecution{"exec-1": exec}, nil))

	loadedMessages, err := g.LoadMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, loadedMessages, 1)

	executions, _, err := g.LoadExecutions(ctx, "sess-1")
	require.NoError(t, err)
	require.Contains(t, executions, "exec-1")
	assert.Equal(t, core.StatusCompleted, executions["exec-1"].Status)
}

func TestSaveExecutionsMergesAcrossCalls(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	exec1 := &core.ToolExecution{ID: "exec-1", SessionID: "sess-1", Status: core.StatusRunning}
	require.NoError(t, g.SaveExecutions(ctx, "sess-1", map[string]*core.ToolExecution{"exec-1": exec1}, nil))

	exec2 := &core.ToolExecution{ID: "exec-2", SessionID: "sess-1", Status: core.StatusCompleted}
	require.NoError(t, g.SaveExecutions(ctx, "sess-1", map[string]*core.ToolExecution{"exec-2": exec2}, nil))

	executions, _, err := g.LoadExecutions(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, executions, 2)
	assert.Contains(t, executions, "exec-1")
	assert.Contains(t, executions, "exec-2")
}

func TestListSessionsReturnsSummaries(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.SaveSession(ctx, &core.Session{ID: "a", AdapterKind: core.AdapterLocal}))
	require.NoError(t, g.SaveSession(ctx, &core.Session{ID: "b", AdapterKind: core.AdapterContainer}))

	summaries, err := g.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestDeleteSessionRemovesRecord(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.SaveSession(ctx, &core.Session{ID: "sess-1"}))
	require.NoError(t, g.DeleteSession(ctx, "sess-1"))

	loaded, err := g.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSavePreviewsRoundTrips(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	p := &core.Preview{ID: "prev-1", SessionID: "sess-1", ExecutionID: "exec-1", ContentType: "diff", Brief: "brief"}
	require.NoError(t, g.SavePreviews(ctx, "sess-1", map[string]*core.Preview{"prev-1": p}))

	previews, err := g.LoadPreviews(ctx, "sess-1")
	require.NoError(t, err)
	require.Contains(t, previews, "prev-1")
	assert.Equal(t, "brief", previews["prev-1"].Brief)
}
