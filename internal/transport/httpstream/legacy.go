package httpstream

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mcpkit/runtime/internal/dispatcher"
	"github.com/mcpkit/runtime/internal/eventstore"
	"github.com/mcpkit/runtime/internal/jsonrpc"
	"github.com/mcpkit/runtime/internal/protoerr"
	"github.com/mcpkit/runtime/internal/session"
)

const clientIDParam = "client_id"

// LegacyHandler serves the deprecated shared-session SSE transport:
// every client streams from the one session session.LegacyManager holds,
// identified only by a client_id query parameter instead of a session
// header. New deployments should use Handler; this exists so clients
// built against the pre-streamable-HTTP SSE transport keep working.
type LegacyHandler struct {
	dispatcher *dispatcher.Dispatcher
	sessions   *session.LegacyManager
	events     *eventstore.Store
	logger     *slog.Logger

	heartbeatInterval time.Duration

	wg sync.WaitGroup
}

// NewLegacyHandler builds a LegacyHandler. logger may be nil;
// heartbeatInterval <= 0 uses DefaultHeartbeatInterval.
func NewLegacyHandler(d *dispatcher.Dispatcher, sessions *session.LegacyManager, events *eventstore.Store, heartbeatInterval time.Duration, logger *slog.Logger) *LegacyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &LegacyHandler{dispatcher: d, sessions: sessions, events: events, heartbeatInterval: heartbeatInterval, logger: logger}
}

// Mux serves the legacy surface: GET for the SSE stream, keyed by
// ?client_id=, and POST for requests against the shared session (POST
// does not read client_id).
func (h *LegacyHandler) Mux(path string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.handleStream(w, r)
		case http.MethodPost:
			h.handlePost(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func (h *LegacyHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Session()

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

func (h *LegacyHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get(clientIDParam)
	if clientID == "" {
		http.Error(w, "GET requires a "+clientIDParam+" query parameter", http.StatusBadRequest)
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
	h.sessions.Attach(clientID, conn)
	defer h.sessions.Detach(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	connEventID := h.events.Store(`{"status":"connected"}`, "connection")
	if !h.writeFrame(w, flusher, eventstore.Render(eventstore.Event{ID: connEventID, Type: "connection", Data: `{"status":"connected"}`})) {
		return
	}

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.done:
			return
		case <-ticker.C:
			hbID := h.events.Store("", "heartbeat")
			if !h.writeFrame(w, flusher, eventstore.Render(eventstore.Event{ID: hbID, Type: "heartbeat"})) {
				return
			}
		case msg := <-conn.outgoing:
			msgID := h.events.Store(msg, "message")
			if !h.writeFrame(w, flusher, eventstore.Render(eventstore.Event{ID: msgID, Type: "message", Data: msg})) {
				return
			}
		}
	}
}

func (h *LegacyHandler) writeError(w http.ResponseWriter, id any, pe *protoerr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(protoerr.HTTPStatus(pe.Code))
	resp := jsonrpc.NewErrorResponse(id, &jsonrpc.Error{Code: pe.Code, Message: pe.Error()})
	_ = json.NewEncoder(w).Encode(resp)
}

// Shutdown waits for every attached stream's goroutine to return; callers
// are responsible for cancelling the request contexts that unblock them
// (e.g. via http.Server.Shutdown) before calling this.
func (h *LegacyHandler) Shutdown() {
	h.wg.Wait()
}
