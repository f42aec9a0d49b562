package httpstream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcpkit/runtime/internal/capability"
	"github.com/mcpkit/runtime/internal/dispatcher"
	"github.com/mcpkit/runtime/internal/eventstore"
	"github.com/mcpkit/runtime/internal/middleware"
	"github.com/mcpkit/runtime/internal/protoerr"
	"github.com/mcpkit/runtime/internal/security"
	"github.com/mcpkit/runtime/internal/session"
)

// newAPIKeyGatedHandler wires the security middleware into the generic
// before_request hook the same way cmd/mcpkit-server/main.go does, so the
// header actually reaching the handler is what authentication sees.
func newAPIKeyGatedHandler(goodKey string) *Handler {
	registry := capability.NewRegistry()
	registry.AddTool(&capability.Tool{
		Name: "echo",
		Handler: func(_ context.Context, _ *session.Session, raw json.RawMessage) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})

	sec := security.New()
	sec.RegisterStrategy("api_key", security.NewAPIKeyStrategy("", map[string]*security.User{
		goodKey: {ID: "default", Role: "operator"},
	}))
	sec.RequireAuthentication(true)

	mw := middleware.NewManager()
	mw.Register("security", []middleware.HookType{middleware.BeforeRequest}, 10, middleware.Conditions{Critical: true}, func(ctx *middleware.Context) error {
		sess, _ := ctx.Session.(*session.Session)
		req := &security.Request{}
		if sess != nil && sess.Context != nil {
			req = &security.Request{Headers: sess.Context.Headers, RemoteAddr: sess.Context.RemoteAddr()}
		}
		result := sec.ProcessRequest(req, ctx.OperationType, ctx.Params)
		if !result.Success {
			if result.Code == "AUTHENTICATION_REQUIRED" {
				return protoerr.AuthRequired()
			}
			return protoerr.AuthorizationFailed()
		}
		return nil
	})

	d := dispatcher.New(registry, mw, nil)
	sessions := session.NewHTTPManager(session.NewManager(0))
	events := eventstore.New(16)
	return New(d, sessions, events, 50*time.Millisecond, nil)
}

func newTestHandler() *Handler {
	registry := capability.NewRegistry()
	registry.AddTool(&capability.Tool{
		Name: "echo",
		Handler: func(_ context.Context, _ *session.Session, raw json.RawMessage) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	d := dispatcher.New(registry, middleware.NewManager(), nil)
	sessions := session.NewHTTPManager(session.NewManager(0))
	events := eventstore.New(16)
	return New(d, sessions, events, 50*time.Millisecond, nil)
}

func TestHealthCheck(t *testing.T) {
	h := newTestHandler()
	mux := h.Mux("/mcp")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestPostWithoutSessionIDCreatesAndEchoesOne(t *testing.T) {
	h := newTestHandler()
	mux := h.Mux("/mcp")

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(sessionHeader) == "" {
		t.Fatal("expected a generated Mcp-Session-Id to be echoed")
	}
}

func TestPostMalformedJSONReturnsParseError(t *testing.T) {
	h := newTestHandler()
	mux := h.Mux("/mcp")

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	var resp struct {
		Error *struct{ Code int } `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("got %+v", resp.Error)
	}
}

func TestPostWithoutAPIKeyReturns401(t *testing.T) {
	h := newAPIKeyGatedHandler("good-key")
	mux := h.Mux("/mcp")

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401: %s", rec.Code, rec.Body.String())
	}
}

func TestPostWithCorrectAPIKeyReturns200(t *testing.T) {
	h := newAPIKeyGatedHandler("good-key")
	mux := h.Mux("/mcp")

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("X-API-Key", "good-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestGetWithoutSessionIDReturns400(t *testing.T) {
	h := newTestHandler()
	mux := h.Mux("/mcp")

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestDeleteUnknownSessionReturns404(t *testing.T) {
	h := newTestHandler()
	mux := h.Mux("/mcp")

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionHeader, "does-not-exist")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestDeleteKnownSessionReturns204(t *testing.T) {
	h := newTestHandler()

	postReq := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	postRec := httptest.NewRecorder()
	h.Mux("/mcp").ServeHTTP(postRec, postReq)
	id := postRec.Header().Get(sessionHeader)
	if id == "" {
		t.Fatal("expected a session id from the POST")
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	delReq.Header.Set(sessionHeader, id)
	delRec := httptest.NewRecorder()
	h.Mux("/mcp").ServeHTTP(delRec, delReq)

	if delRec.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", delRec.Code)
	}
}

func TestSSEStreamEmitsConnectionEventThenHeartbeat(t *testing.T) {
	h := newTestHandler()
	sess := h.sessions.Create("sess-1", nil)

	server := httptest.NewServer(h.Mux("/mcp"))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(sessionHeader, sess.ID)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET /mcp: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("got content-type %q", resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	var sawConnection, sawHeartbeat bool
	for i := 0; i < 40 && !(sawConnection && sawHeartbeat); i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, "event: connection") {
			sawConnection = true
		}
		if strings.Contains(line, "event: heartbeat") {
			sawHeartbeat = true
		}
	}
	if !sawConnection {
		t.Fatal("expected a connection event")
	}
	if !sawHeartbeat {
		t.Fatal("expected at least one heartbeat event within the test window")
	}
}
