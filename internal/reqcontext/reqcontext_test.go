package reqcontext

import "testing"

func TestMinimalNeverSharesState(t *testing.T) {
	a := Minimal("stdio")
	b := Minimal("stdio")
	if a == b {
		t.Fatal("Minimal must return a distinct instance each call")
	}
	a.Headers["x"] = "1"
	if _, ok := b.Headers["x"]; ok {
		t.Fatal("mutating one minimal context must not affect another")
	}
}

func TestNewCopiesMaps(t *testing.T) {
	headers := map[string]string{"Accept": "application/json"}
	ctx := New("POST", "/mcp", headers, nil, "http", "203.0.113.5:1234")
	headers["Accept"] = "mutated"
	if ctx.Headers["Accept"] != "application/json" {
		t.Fatal("New must copy the headers map, not alias it")
	}
	if ctx.RemoteAddr() != "203.0.113.5:1234" {
		t.Errorf("RemoteAddr() = %q", ctx.RemoteAddr())
	}
	if ctx.TransportType() != "http" {
		t.Errorf("TransportType() = %q", ctx.TransportType())
	}
}

func TestMinimalHasNoRemoteAddr(t *testing.T) {
	ctx := Minimal("stdio")
	if addr := ctx.RemoteAddr(); addr != "" {
		t.Errorf("RemoteAddr() = %q, want empty", addr)
	}
}
