// Package httpstream implements the streamable-HTTP transport: POST for
// client requests, a long-lived SSE GET for server-initiated delivery and
// resumable replay, and DELETE for explicit session termination.
package httpstream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mcpkit/runtime/internal/dispatcher"
	"github.com/mcpkit/runtime/internal/eventstore"
	"github.com/mcpkit/runtime/internal/jsonrpc"
	"github.com/mcpkit/runtime/internal/netutil"
	"github.com/mcpkit/runtime/internal/protoerr"
	"github.com/mcpkit/runtime/internal/reqcontext"
	"github.com/mcpkit/runtime/internal/session"
)

const sessionHeader = "Mcp-Session-Id"

// DefaultHeartbeatInterval matches the spec's recommended 15-30s window,
// settled at 20s (SPEC_FULL's resolution of the Open Question).
const DefaultHeartbeatInterval = 20 * time.Second

// Handler serves the MCP streamable-HTTP surface on a single path prefix.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	sessions   *session.HTTPManager
	events     *eventstore.Store
	logger     *slog.Logger

	heartbeatInterval time.Duration

	wg sync.WaitGroup
}

// New builds a Handler. logger may be nil; heartbeatInterval <= 0 uses
// DefaultHeartbeatInterval.
func New(d *dispatcher.Dispatcher, sessions *session.HTTPManager, events *eventstore.Store, heartbeatInterval time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &Handler{dispatcher: d, sessions: sessions, events: events, heartbeatInterval: heartbeatInterval, logger: logger}
}

// Mux builds an *http.ServeMux serving "GET /" as a health check and
// every method on mcpPath ("/mcp" is the spec's documented default)
// through the handler.
func (h *Handler) Mux(mcpPath string) *http.ServeMux {
	if mcpPath == "" {
		mcpPath = "/mcp"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleHealth)
	mux.HandleFunc(mcpPath, h.handleMCP)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleSSE(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	ctx := reqcontext.New(r.Method, r.URL.Path, flattenHeader(r.Header), nil, "http", netutil.RemoteAddr(r.RemoteAddr))
	sess, _ := h.sessions.GetOrCreate(id, ctx)
	w.Header().Set(sessionHeader, sess.ID)

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		h.dispatcher.NotifyTransportError(sess, err)
		h.writeError(w, nil, protoerr.ParseError(err))
		return
	}

	req, err := jsonrpc.DecodeRequest(body)
	if err != nil {
		h.dispatcher.NotifyTransportError(sess, err)
		h.writeError(w, nil, protoerr.ParseError(err))
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), sess, req)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	status := http.StatusOK
	if resp.Error != nil {
		status = protoerr.HTTPStatus(resp.Error.Code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		http.Error(w, "DELETE requires an "+sessionHeader+" header", http.StatusBadRequest)
		return
	}
	if !h.sessions.Terminate(id) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		http.Error(w, "GET requires an "+sessionHeader+" header", http.StatusBadRequest)
		return
	}
	sess, ok := h.sessions.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	conn := newConnection()
	h.sessions.SetStreaming(sess, conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Last-Event-ID")
	w.WriteHeader(http.StatusOK)

	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		for _, ev := range h.events.GetAfter(&lastID) {
			if !h.writeFrame(w, flusher, eventstore.Render(ev)) {
				h.detach(sess, conn)
				return
			}
		}
	}

	connEventID := h.events.Store(`{"status":"connected"}`, "connection")
	if !h.writeFrame(w, flusher, eventstore.Render(eventstore.Event{ID: connEventID, Type: "connection", Data: `{"status":"connected"}`})) {
		h.detach(sess, conn)
		return
	}

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.detach(sess, conn)
			return
		case <-conn.done:
			// A newer stream may have replaced (and closed) this one;
			// leave that newer binding in place.
			if cur, ok := sess.Streaming(); ok && cur == conn {
				h.sessions.RemoveStreaming(sess)
			}
			return
		case <-ticker.C:
			hbID := h.events.Store("", "heartbeat")
			if !h.writeFrame(w, flusher, eventstore.Render(eventstore.Event{ID: hbID, Type: "heartbeat"})) {
				h.detach(sess, conn)
				return
			}
		case msg := <-conn.outgoing:
			msgID := h.events.Store(msg, "message")
			if !h.writeFrame(w, flusher, eventstore.Render(eventstore.Event{ID: msgID, Type: "message", Data: msg})) {
				h.detach(sess, conn)
				return
			}
		}
	}
}

func (h *Handler) writeFrame(w http.ResponseWriter, flusher http.Flusher, frame string) bool {
	if _, err := io.WriteString(w, frame); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// detach closes the connection and removes it from the session; used when
// the handler goroutine itself observes the failure (peer disconnect,
// write error), as opposed to conn.done firing from an external Close.
func (h *Handler) detach(sess *session.Session, conn *connection) {
	_ = conn.Close()
	if cur, ok := sess.Streaming(); ok && cur == conn {
		h.sessions.RemoveStreaming(sess)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id any, pe *protoerr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(protoerr.HTTPStatus(pe.Code))
	resp := jsonrpc.NewErrorResponse(id, &jsonrpc.Error{Code: pe.Code, Message: pe.Error()})
	_ = json.NewEncoder(w).Encode(resp)
}

// Shutdown invokes cleanup_all (closing every session's streaming
// connection, which unblocks its SSE goroutine) and waits, bounded by
// ctx, for in-flight stream handlers to return.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.sessions.CleanupAll()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
