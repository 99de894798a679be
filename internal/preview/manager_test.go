package preview

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/internal/persistence"
)

func newTestManager(t *testing.T) (*Manager, *persistence.Gateway) {
	t.Helper()
	gw := persistence.New(t.TempDir(), zerolog.Nop())
	return New(gw), gw
}

func TestCreatePreviewIsRetrievableByExecution(t *testing.T) {
	m, _ := newTestManager(t)
	p := m.CreatePreview("sess-1", "exec-1", "diff", "brief", "full", nil)
	require.NotEmpty(t, p.ID)

	got, ok := m.GetForExecution("exec-1")
	require.True(t, ok)
	assert.Equal(t, "brief", got.Brief)
}

func TestGetForExecutionMissingIsNotAnError(t *testing.T) {
	m, _ := newTestManager(t)
	_, ok := m.GetForExecution("nope")
	assert.False(t, ok)
}

func TestCreatePermissionPreviewCarriesPermissionID(t *testing.T) {
	m, _ := newTestManager(t)
	p := m.CreatePermissionPreview("sess-1", "exec-1", "perm-1", "diff", "b", "f", nil)
	assert.Equal(t, "perm-1", p.PermissionID)
}

func TestSaveAndLoadSessionDataRoundTrips(t *testing.T) {
	m, gw := newTestManager(t)
	ctx := context.Background()

	m.CreatePreview("sess-1", "exec-1", "diff", "brief", "full", nil)
	m.SaveSessionData(ctx, "sess-1")

	fresh := New(gw)
	require.NoError(t, fresh.LoadSessionData(ctx, "sess-1"))

	got, ok := fresh.GetForExecution("exec-1")
	require.True(t, ok)
	assert.Equal(t, "brief", got.Brief)
}

func TestEditDiffSummarizesChanges(t *testing.T) {
	brief, full := EditDiff("line1\nline2\n", "line1\nline2 changed\n")
	assert.NotEmpty(t, brief)
	assert.NotEmpty(t, full)
}
