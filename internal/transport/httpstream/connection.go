package httpstream

import (
	"sync"

	"github.com/mcpkit/runtime/internal/session"
)

// connection is the per-session streaming link bound into session.Session
// via SetStreaming. It decouples "a handler wants to push a message" from
// "the SSE loop that owns the live HTTP response" via a buffered channel;
// the SSE loop is the only goroutine that ever writes to the response.
type connection struct {
	mu       sync.Mutex
	outgoing chan string
	closed   bool
	done     chan struct{}
}

const outgoingBuffer = 64

func newConnection() *connection {
	return &connection{
		outgoing: make(chan string, outgoingBuffer),
		done:     make(chan struct{}),
	}
}

// Send enqueues message for delivery on the live stream. Returns false if
// the connection is already closed or the outgoing buffer is full (a
// slow or dead reader); either case counts as a delivery failure per the
// send_to_session contract.
func (c *connection) Send(message string) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	select {
	case c.outgoing <- message:
		return true
	default:
		return false
	}
}

// Close implements session.StreamingConnection. Idempotent.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

// SendToSession implements 4.5's send_to_session: false if the session
// has no active stream, the stream is closed, or the writer's buffer is
// saturated.
func SendToSession(sess *session.Session, message string) bool {
	sc, ok := sess.Streaming()
	if !ok {
		return false
	}
	conn, ok := sc.(*connection)
	if !ok {
		return false
	}
	return conn.Send(message)
}
