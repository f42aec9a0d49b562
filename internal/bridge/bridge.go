// Package bridge exposes the HTTP surface an out-of-band browser
// extension polls for work: enqueue a command from a tool call, let the
// extension drain and execute it, and accept its result back.
package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpkit/runtime/internal/commandqueue"
	"github.com/mcpkit/runtime/internal/protoerr"
	"github.com/mcpkit/runtime/internal/security"
)

// DefaultWaitTimeout bounds how long a /browser/<action> call blocks for
// the extension's result before reporting a timeout.
const DefaultWaitTimeout = 30 * time.Second

// LivenessWindow bounds how long the extension can go without a ping or
// a poll before it's considered disconnected.
const LivenessWindow = 30 * time.Second

// browserActions are the tool-facing endpoints that enqueue a command and
// block for its completion. Each maps 1:1 onto a Command.Action value the
// extension's poller recognizes.
var browserActions = []string{"navigate", "click", "type", "snapshot", "screenshot", "console", "wait"}

// Bridge wires the command queue to its HTTP surface. Security is
// optional: a nil Security leaves every endpoint open.
type Bridge struct {
	queue       *commandqueue.Queue
	security    *security.Middleware
	waitTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	lastSeen time.Time
}

// New builds a Bridge. security may be nil. waitTimeout <= 0 uses
// DefaultWaitTimeout.
func New(queue *commandqueue.Queue, sec *security.Middleware, waitTimeout time.Duration, logger *slog.Logger) *Bridge {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{queue: queue, security: sec, waitTimeout: waitTimeout, logger: logger}
}

// Mux registers every bridge endpoint under /browser/.
func (b *Bridge) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/browser/ping", cors(b.handlePing))
	mux.HandleFunc("/browser/poll", cors(b.handlePoll))
	mux.HandleFunc("/browser/result", cors(b.handleResult))
	for _, action := range browserActions {
		mux.HandleFunc("/browser/"+action, cors(b.handleAction(action)))
	}
	return mux
}

func cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// gate runs the security middleware, if configured, and writes the
// rejection response itself when access is denied. Reports whether the
// caller should continue handling the request.
func (b *Bridge) gate(w http.ResponseWriter, r *http.Request, action string) bool {
	if b.security == nil {
		return true
	}
	result := b.security.ProcessRequest(&security.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    flattenHeader(r.Header),
		RemoteAddr: r.RemoteAddr,
	}, action, bridgeResource{})
	if !result.Success {
		writeJSON(w, result.HTTPStatus, map[string]any{"error": result.Code})
		return false
	}
	return true
}

type bridgeResource struct{}

func (bridgeResource) ResourceKind() string { return "browser_command" }

func (b *Bridge) handlePing(w http.ResponseWriter, r *http.Request) {
	if !b.gate(w, r, "ping") {
		return
	}
	b.markSeen()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (b *Bridge) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !b.gate(w, r, "poll") {
		return
	}
	b.markSeen()

	commands := b.queue.DrainPending()
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

// markSeen records that the extension is alive, via either a ping or a
// poll: an actively polling extension is evidence of liveness just as
// much as an explicit ping.
func (b *Bridge) markSeen() {
	b.mu.Lock()
	b.lastSeen = time.Now()
	b.mu.Unlock()
}

// connected reports whether the extension has pinged or polled within
// LivenessWindow. Before the first contact, it reports false.
func (b *Bridge) connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.lastSeen.IsZero() && time.Since(b.lastSeen) <= LivenessWindow
}

type resultBody struct {
	ID      uuid.UUID `json:"id"`
	Success bool      `json:"success"`
	Result  any       `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func (b *Bridge) handleResult(w http.ResponseWriter, r *http.Request) {
	if !b.gate(w, r, "result") {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body resultBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_body"})
		return
	}
	b.queue.Complete(body.ID, body.Success, body.Result, body.Error)
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

// handleAction enqueues a command for action and blocks for its result,
// the synchronous half of the tool-facing bridge contract: a tool
// invocation calls this (directly, or via its capability.Handler) and
// gets back whatever the extension eventually posts to /browser/result.
func (b *Bridge) handleAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.gate(w, r, action) {
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !b.connected() {
			status, _ := protoerr.HTTPStatusForSentinel(protoerr.ErrExtensionOffline)
			writeJSON(w, status, map[string]any{"error": "Chrome extension not connected"})
			return
		}

		var params map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&params)
		}

		cmd := commandqueue.NewCommand(action, params)
		b.queue.Enqueue(cmd)

		record, err := b.queue.WaitForResult(cmd.ID, b.waitTimeout)
		if err != nil {
			writeJSON(w, http.StatusRequestTimeout, map[string]any{"error": "command_timeout", "id": cmd.ID})
			return
		}
		if !record.Success {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": record.Error})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": record.Result})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
