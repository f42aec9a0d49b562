// Package session implements the per-client session table: creation,
// lookup, timeout-based eviction, and (for the HTTP variants) streaming
// connection tracking.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/mcpkit/runtime/internal/reqcontext"
)

// StreamingConnection is anything a session's live SSE stream can be
// bound to; Manager only needs to be able to close it on eviction.
type StreamingConnection interface {
	Close() error
}

// Session is per-client state: identity, request context, last-access,
// and an optional streaming link. created_at/last_accessed_at/metadata
// mutations are all guarded by mu.
type Session struct {
	ID        string
	Context   *reqcontext.Context
	CreatedAt time.Time

	mu             sync.Mutex
	lastAccessedAt time.Time
	metadata       map[string]any
	streaming      StreamingConnection
}

func newSession(id string, ctx *reqcontext.Context) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		Context:        ctx,
		CreatedAt:      now,
		lastAccessedAt: now,
		metadata:       make(map[string]any),
	}
}

// Touch sets last_accessed_at to now. last_accessed_at is monotone under
// any single caller; concurrent touches may race but never move
// backwards relative to the caller that issued them.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccessedAt = time.Now()
	s.mu.Unlock()
}

// LastAccessedAt returns the last touch time.
func (s *Session) LastAccessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessedAt
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(timeout time.Duration) bool {
	return time.Since(s.LastAccessedAt()) > timeout
}

// SetMetadata stores a value under key.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Metadata retrieves a value stored under key.
func (s *Session) Metadata(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok
}

// SetStreaming binds a streaming connection to the session, replacing
// (and closing) any prior one to preserve the at-most-one invariant.
func (s *Session) SetStreaming(conn StreamingConnection) {
	s.mu.Lock()
	prev := s.streaming
	s.streaming = conn
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// Streaming returns the currently bound streaming connection, if any.
func (s *Session) Streaming() (StreamingConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming, s.streaming != nil
}

// RemoveStreaming detaches (without closing) the current connection.
// Callers that are themselves reacting to the connection's closure use
// this; callers evicting the session use closeStreaming instead.
func (s *Session) RemoveStreaming() {
	s.mu.Lock()
	s.streaming = nil
	s.mu.Unlock()
}

func (s *Session) closeStreaming() {
	s.mu.Lock()
	conn := s.streaming
	s.streaming = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Manager is the base session table: creation, lookup, timeout eviction.
// HTTP- and legacy-SSE-specific behavior is layered on top in
// httpsession.go and legacysession.go.
type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	sessionTimeout time.Duration

	onTerminate func(*Session)

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// DefaultSessionTimeout matches the spec's documented default (§5).
const DefaultSessionTimeout = 300 * time.Second

// NewManager creates a session table with the given inactivity timeout.
// timeout <= 0 uses DefaultSessionTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		sessionTimeout: timeout,
	}
}

// OnTerminate installs a hook invoked whenever a session is removed
// (explicit terminate, DELETE, or expiry), before the session is
// forgotten. The HTTP variant uses this to close the streaming
// connection.
func (m *Manager) OnTerminate(fn func(*Session)) {
	m.onTerminate = fn
}

// Create returns the session for id, creating one if id is empty, new,
// or unknown. An explicit id that already exists is not replaced: the
// pre-existing session is returned.
func (m *Manager) Create(id string, ctx *reqcontext.Context) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if existing, ok := m.sessions[id]; ok {
			return existing
		}
	} else {
		id = generateSessionID()
	}

	if ctx == nil {
		ctx = reqcontext.Minimal("unknown")
	}
	s := newSession(id, ctx)
	m.sessions[id] = s
	return s
}

// Get returns the session for id and touches it, or reports false if
// unknown.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// GetOrCreate resolves id to an existing session (touching it) or
// creates a new one. created reports which happened.
func (m *Manager) GetOrCreate(id string, ctx *reqcontext.Context) (s *Session, created bool) {
	if id != "" {
		if existing, ok := m.Get(id); ok {
			return existing, false
		}
	}
	return m.Create(id, ctx), true
}

// Terminate removes a session, invoking the onTerminate hook first.
// Reports whether a session existed.
func (m *Manager) Terminate(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if m.onTerminate != nil {
		m.onTerminate(s)
	}
	s.closeStreaming()
	return true
}

// SessionCount reports the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpired terminates every session idle longer than the
// configured timeout, and returns how many were removed.
func (m *Manager) CleanupExpired() int {
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.Expired(m.sessionTimeout) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.Terminate(id)
	}
	return len(expired)
}

// CleanupAll terminates every session unconditionally, used on shutdown.
func (m *Manager) CleanupAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Terminate(id)
	}
}

// StartAutoCleanup runs CleanupExpired on a fixed interval (the spec
// recommends 60s) until Stop is called. Safe to call at most once per
// Manager.
func (m *Manager) StartAutoCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	m.stopCleanup = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupExpired()
			case <-m.stopCleanup:
				return
			}
		}
	}()
}

// Stop ends the auto-cleanup loop, if running.
func (m *Manager) Stop() {
	m.cleanupOnce.Do(func() {
		if m.stopCleanup != nil {
			close(m.stopCleanup)
		}
	})
}

// Sessions returns a snapshot of all live sessions, for broadcast.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return "session-" + hex.EncodeToString(b)
}
