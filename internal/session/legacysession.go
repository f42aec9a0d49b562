package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mcpkit/runtime/internal/reqcontext"
)

// LegacyManager implements the deprecated SSE-shared-session mode: a
// single session is shared by every client, with multiple independent
// streaming connections attached to it. It exists for compatibility with
// clients built against the pre-streamable-HTTP SSE transport; new
// deployments should use HTTPManager, which gives each client its own
// session.
type LegacyManager struct {
	mu      sync.RWMutex
	session *Session
	conns   map[string]StreamingConnection
	timeout time.Duration
}

// NewLegacyManager creates the shared session and logs a deprecation
// warning, per the spec's requirement that this mode announce itself.
func NewLegacyManager(logger *slog.Logger, timeout time.Duration) *LegacyManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("legacy SSE shared-session mode is deprecated; one session is shared across all clients",
		"preferred", "session.HTTPManager")
	return &LegacyManager{
		session: newSession(generateSessionID(), reqcontext.Minimal("sse")),
		conns:   make(map[string]StreamingConnection),
		timeout: timeout,
	}
}

// Session returns the single shared session, touching it.
func (lm *LegacyManager) Session() *Session {
	lm.session.Touch()
	return lm.session
}

// Attach binds a client's streaming connection under clientID, replacing
// any previous connection for that client.
func (lm *LegacyManager) Attach(clientID string, conn StreamingConnection) {
	lm.mu.Lock()
	prev := lm.conns[clientID]
	lm.conns[clientID] = conn
	lm.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// Detach removes and closes a client's connection.
func (lm *LegacyManager) Detach(clientID string) {
	lm.mu.Lock()
	conn, ok := lm.conns[clientID]
	delete(lm.conns, clientID)
	lm.mu.Unlock()
	if ok && conn != nil {
		_ = conn.Close()
	}
}

// ClientCount reports how many client connections are currently attached.
func (lm *LegacyManager) ClientCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.conns)
}

// Broadcast delivers message to every attached client connection via
// send, returning the count of recipients delivered to.
func (lm *LegacyManager) Broadcast(message string, send func(StreamingConnection, string) bool) int {
	lm.mu.RLock()
	conns := make([]StreamingConnection, 0, len(lm.conns))
	for _, c := range lm.conns {
		conns = append(conns, c)
	}
	lm.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if send(c, message) {
			delivered++
		}
	}
	return delivered
}

// Expired reports whether the shared session has been idle past the
// configured timeout.
func (lm *LegacyManager) Expired() bool {
	return lm.session.Expired(lm.timeout)
}
