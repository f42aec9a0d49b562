package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mcpkit/runtime/internal/capability"
	"github.com/mcpkit/runtime/internal/dispatcher"
	"github.com/mcpkit/runtime/internal/middleware"
	"github.com/mcpkit/runtime/internal/session"
)

func TestServerRunEchoesToolCallReply(t *testing.T) {
	registry := capability.NewRegistry()
	registry.AddTool(&capability.Tool{
		Name: "echo",
		Handler: func(_ context.Context, _ *session.Session, raw json.RawMessage) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	d := dispatcher.New(registry, middleware.NewManager(), nil)
	sessions := session.NewManager(0)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}` + "\n")
	var out bytes.Buffer

	srv := NewWithIO(d, sessions, nil, in, &out)
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		ID     float64         `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct{}       `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("failed to decode reply: %v (%q)", err, out.String())
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error in reply: %+v", resp.Error)
	}
	if resp.ID != 1 {
		t.Fatalf("got id %v, want 1", resp.ID)
	}
}

func TestServerRunProducesNoReplyForNotification(t *testing.T) {
	registry := capability.NewRegistry()
	d := dispatcher.New(registry, middleware.NewManager(), nil)
	sessions := session.NewManager(0)

	in := strings.NewReader(`{"jsonrpc":"2.0","method":"ping"}` + "\n")
	var out bytes.Buffer

	srv := NewWithIO(d, sessions, nil, in, &out)
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for a notification, got %q", out.String())
	}
}

func TestServerRunEmitsParseErrorForMalformedJSON(t *testing.T) {
	registry := capability.NewRegistry()
	d := dispatcher.New(registry, middleware.NewManager(), nil)
	sessions := session.NewManager(0)

	in := strings.NewReader(`{"id": "bad-1", "method": ` + "\n")
	var out bytes.Buffer

	srv := NewWithIO(d, sessions, nil, in, &out)
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(out.String(), `"code":-32700`) {
		t.Fatalf("expected a -32700 parse error reply, got %q", out.String())
	}
	if !strings.Contains(out.String(), `"bad-1"`) {
		t.Fatalf("expected best-effort id echoed back, got %q", out.String())
	}
}

func TestServerUsesSingletonSessionAcrossMessages(t *testing.T) {
	registry := capability.NewRegistry()
	var seen []string
	registry.AddTool(&capability.Tool{
		Name: "whoami",
		Handler: func(_ context.Context, sess *session.Session, _ json.RawMessage) (any, error) {
			seen = append(seen, sess.ID)
			return map[string]any{}, nil
		},
	})
	d := dispatcher.New(registry, middleware.NewManager(), nil)
	sessions := session.NewManager(0)

	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"whoami"}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"whoami"}}` + "\n",
	)
	var out bytes.Buffer

	srv := NewWithIO(d, sessions, nil, in, &out)
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || seen[0] != seen[1] || seen[0] != SingletonSessionID {
		t.Fatalf("expected both calls bound to the singleton session, got %v", seen)
	}
}
