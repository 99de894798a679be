package sessionmgr

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/internal/abort"
	"github.com/opencode-ai/agentcore/internal/corerr"
	"github.com/opencode-ai/agentcore/internal/eventbus"
	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/opencode-ai/agentcore/pkg/core"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(func() { _ = bus.Close() })
	gw := persistence.New(t.TempDir(), zerolog.Nop())
	return New(cfg, abort.New(bus), gw, bus, zerolog.Nop())
}

func TestManager_LRUEviction(t *testing.T) {
	m := newTestManager(t, Config{MaxSessions: 3})
	defer m.Stop()

	s1 := m.Create(core.SessionConfig{})
	time.Sleep(time.Millisecond)
	s2 := m.Create(core.SessionConfig{})
	time.Sleep(time.Millisecond)
	s3 := m.Create(core.SessionConfig{})
	time.Sleep(time.Millisecond)
	s4 := m.Create(core.SessionConfig{})

	_, err := m.Get(s1.ID)
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.KindSessionNotFound))

	for _, s := range []*core.Session{s2, s3, s4} {
		_, err := m.Get(s.ID)
		require.NoError(t, err)
	}
	assert.Len(t, m.All(), 3)
}

func TestManager_ProcessingSessionNeverEvicted(t *testing.T) {
	m := newTestManager(t, Config{MaxSessions: 2})
	defer m.Stop()

	s1 := m.Create(core.SessionConfig{})
	require.NoError(t, m.Update(s1.ID, func(s *core.Session) { s.Processing = true }))
	time.Sleep(time.Millisecond)
	s2 := m.Create(core.SessionConfig{})
	time.Sleep(time.Millisecond)
	_ = m.Create(core.SessionConfig{})

	_, err := m.Get(s1.ID)
	assert.NoError(t, err, "a processing session must survive eviction")
	_, err = m.Get(s2.ID)
	assert.Error(t, err, "the oldest non-processing session should have been evicted instead")
}

func TestManager_DeleteClearsAbortEntry(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	gw := persistence.New(t.TempDir(), zerolog.Nop())
	abortR := abort.New(bus)
	m := New(Config{}, abortR, gw, bus, zerolog.Nop())
	defer m.Stop()

	s := m.Create(core.SessionConfig{})
	abortR.MarkAborted(s.ID)
	require.True(t, abortR.IsAborted(s.ID))

	require.NoError(t, m.Delete(s.ID))
	assert.False(t, abortR.IsAborted(s.ID))

	_, err := m.Get(s.ID)
	assert.Error(t, err)
}

func TestManager_Fork(t *testing.T) {
	m := newTestManager(t, Config{})
	defer m.Stop()

	parent := m.Create(core.SessionConfig{Model: "test-model"})
	parent.Conversation = []core.ConversationEntry{
		{Role: core.RoleUser, Parts: []core.Part{core.TextPart{Text: "hi"}}},
		{Role: core.RoleAssistant, Parts: []core.Part{core.TextPart{Text: "hello"}}},
		{Role: core.RoleUser, Parts: []core.Part{core.TextPart{Text: "more"}}},
	}

	child, err := m.Fork(parent.ID, 1)
	require.NoError(t, err)
	assert.Len(t, child.Conversation, 2)
	assert.Equal(t, "test-model", child.Config.Model)
	assert.NotEqual(t, parent.ID, child.ID)
}

func TestManager_SweeperSkipsProcessingAndRemovesIdle(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	gw := persistence.New(t.TempDir(), zerolog.Nop())
	abortR := abort.New(bus)
	m := New(Config{SessionTimeout: 10 * time.Millisecond}, abortR, gw, bus, zerolog.Nop())
	defer m.Stop()

	s := m.Create(core.SessionConfig{})
	busy := m.Create(core.SessionConfig{})
	require.NoError(t, m.Update(busy.ID, func(sess *core.Session) { sess.Processing = true }))
	time.Sleep(20 * time.Millisecond)
	m.sweepOnce()

	_, err := m.Get(s.ID)
	assert.Error(t, err)
	_, err = m.Get(busy.ID)
	assert.NoError(t, err, "a processing session must survive the sweep")
}
