// Package sessionmgr implements the Session Manager: a bounded,
// LRU-evicted store of core.Session values with an idle-timeout
// sweeper. It knows nothing of the Agent Service or Agent Runner, so
// the dependency between the three stays one-directional.
package sessionmgr

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentcore/internal/abort"
	"github.com/opencode-ai/agentcore/internal/corerr"
	"github.com/opencode-ai/agentcore/internal/eventbus"
	"github.com/opencode-ai/agentcore/internal/persistence"
	"github.com/opencode-ai/agentcore/pkg/core"
)

// Default bounds applied when Config leaves a field unset.
const (
	DefaultMaxSessions      = 10
	DefaultSessionTimeout   = 30 * time.Minute
	DefaultCleanupInterval  = 5 * time.Minute
)

// Config configures a Manager.
type Config struct {
	MaxSessions     int
	SessionTimeout  time.Duration
	CleanupInterval time.Duration
	CleanupEnabled  bool
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}

// Manager is the Session Manager. Safe for concurrent use by
// request handlers, the runner, and its own sweeper goroutine.
type Manager struct {
	cfg     Config
	abortR  *abort.Registry
	gateway *persistence.Gateway
	bus     *eventbus.Bus
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*core.Session

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Manager and starts its idle sweeper goroutine if
// cfg.CleanupEnabled.
func New(cfg Config, abortR *abort.Registry, gateway *persistence.Gateway, bus *eventbus.Bus, logger zerolog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		abortR:   abortR,
		gateway:  gateway,
		bus:      bus,
		logger:   logger.With().Str("component", "sessionmgr").Logger(),
		sessions: make(map[string]*core.Session),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if cfg.CleanupEnabled {
		go m.sweepLoop()
	} else {
		close(m.doneCh)
	}
	return m
}

// Create creates and stores a new Session, evicting the
// least-recently-active session first if this push would exceed
// MaxSessions.
func (m *Manager) Create(config core.SessionConfig) *core.Session {
	now := time.Now()
	sess := &core.Session{
		ID:           ulid.Make().String(),
		CreatedAt:    now,
		LastActiveAt: now,
		AdapterKind:  core.AdapterLocal,
		Config:       config,
	}

	m.mu.Lock()
	m.evictLocked()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	_ = m.gateway.SaveSession(context.Background(), sess)
	return sess
}

// Add registers an already-constructed Session, used when restoring a
// session from persisted state.
func (m *Manager) Add(sess *core.Session) {
	m.mu.Lock()
	m.evictLocked()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
}

// evictLocked removes the least-recently-active session if the cache is
// at capacity. Caller must hold m.mu. A session whose Processing flag is
// set is never evicted.
func (m *Manager) evictLocked() {
	if len(m.sessions) < m.cfg.MaxSessions {
		return
	}
	var oldestID string
	var oldestAt time.Time
	for id, s := range m.sessions {
		if s.Processing {
			continue
		}
		if oldestID == "" || s.LastActiveAt.Before(oldestAt) {
			oldestID = id
			oldestAt = s.LastActiveAt
		}
	}
	if oldestID == "" {
		return // every session is processing; do not evict
	}
	delete(m.sessions, oldestID)
	m.abortR.Clear(oldestID)
	m.emit(eventbus.SessionRemoved, oldestID)
}

// Get returns the Session for id, or a SessionNotFound error.
func (m *Manager) Get(id string) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, corerr.New(corerr.KindSessionNotFound, "session not found: "+id)
	}
	return sess, nil
}

// Update applies mutate to the Session for id under the manager's lock,
// always bumping LastActiveAt afterward.
func (m *Manager) Update(id string, mutate func(*core.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return corerr.New(corerr.KindSessionNotFound, "session not found: "+id)
	}
	mutate(sess)
	sess.Touch(time.Now())
	return nil
}

// Delete removes id from the cache, clears its abort entry, and emits
// session:removed.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return corerr.New(corerr.KindSessionNotFound, "session not found: "+id)
	}
	m.abortR.Clear(id)
	_ = m.gateway.DeleteSession(context.Background(), id)
	m.emit(eventbus.SessionRemoved, id)
	return nil
}

// All returns every cached Session.
func (m *Manager) All() []*core.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// IDs returns every cached session id.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Fork creates a new session branching from parent at uptoMessageIndex
// (inclusive), copying its conversation history up to that point.
func (m *Manager) Fork(parentID string, uptoMessageIndex int) (*core.Session, error) {
	parent, err := m.Get(parentID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	end := uptoMessageIndex + 1
	if end > len(parent.Conversation) || end < 0 {
		end = len(parent.Conversation)
	}
	history := append([]core.ConversationEntry(nil), parent.Conversation[:end]...)
	config := parent.Config
	config.PreAllowedTools = append([]string(nil), parent.Config.PreAllowedTools...)
	m.mu.Unlock()

	child := m.Create(config)
	m.mu.Lock()
	child.Conversation = history
	child.AdapterKind = parent.AdapterKind
	m.mu.Unlock()
	_ = m.gateway.SaveSession(context.Background(), child)
	_ = m.gateway.PersistMessages(context.Background(), child.ID, history)
	return child, nil
}

// Stop terminates the sweeper goroutine, if running.
func (m *Manager) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	<-m.doneCh
}

func (m *Manager) sweepLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	cutoff := time.Now().Add(-m.cfg.SessionTimeout)
	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.Processing {
			continue // never remove a session with a turn in flight
		}
		if s.LastActiveAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.abortR.Clear(id)
		m.emit(eventbus.SessionRemoved, id)
		m.logger.Info().Str("sessionId", id).Msg("session evicted by idle-timeout sweeper")
	}
}

func (m *Manager) emit(topic eventbus.Topic, sessionID string) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(eventbus.Event{Topic: topic, Payload: sessionID})
}

// EventBus exposes the manager-scoped event bus. Callers use the same
// eventbus.Bus the rest of the core shares.
func (m *Manager) EventBus() *eventbus.Bus { return m.bus }
