package session

// HTTPManager layers streaming-connection tracking and broadcast onto
// the base Manager, for the streamable-HTTP transport where each client
// owns exactly one session and, optionally, one live SSE stream.
type HTTPManager struct {
	*Manager
}

// NewHTTPManager wraps a base Manager, wiring its onTerminate hook to
// close any bound streaming connection.
func NewHTTPManager(base *Manager) *HTTPManager {
	hm := &HTTPManager{Manager: base}
	hm.Manager.OnTerminate(func(s *Session) {
		s.closeStreaming()
	})
	return hm
}

// SetStreaming binds conn to session, replacing any prior connection.
func (hm *HTTPManager) SetStreaming(s *Session, conn StreamingConnection) {
	s.SetStreaming(conn)
}

// RemoveStreaming detaches the session's streaming connection without
// closing it (the caller owns the close, e.g. because it is reacting to
// the connection closing on its own).
func (hm *HTTPManager) RemoveStreaming(s *Session) {
	s.RemoveStreaming()
}

// Broadcast delivers message to every session with a live stream, via
// send, and returns the count of recipients send reported success for.
// This resolves the spec's open question on broadcast's return value in
// favor of delivered-count rather than session-count.
func (hm *HTTPManager) Broadcast(message string, send func(*Session, string) bool) int {
	delivered := 0
	for _, s := range hm.Sessions() {
		if _, ok := s.Streaming(); !ok {
			continue
		}
		if send(s, message) {
			delivered++
		}
	}
	return delivered
}
