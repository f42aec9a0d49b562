// Package reqcontext holds the immutable per-request metadata a Session
// carries for the lifetime of a connection.
package reqcontext

// Context is immutable once constructed. Every session owns its own
// instance; a minimal context built for one session must never be handed
// to another, or metadata (remote_addr, headers) from one tenant could
// leak into another's request handling.
type Context struct {
	Method  string
	Path    string
	Headers map[string]string
	Params  map[string]string
	meta    map[string]any
}

// New builds a full context from transport-provided framing.
func New(method, path string, headers, params map[string]string, transportType string, remoteAddr string) *Context {
	meta := map[string]any{"transport_type": transportType}
	if remoteAddr != "" {
		meta["remote_addr"] = remoteAddr
	}
	return &Context{
		Method:  method,
		Path:    path,
		Headers: copyStringMap(headers),
		Params:  copyStringMap(params),
		meta:    meta,
	}
}

// Minimal builds a context for transports with no HTTP framing (stdio).
// Each call returns a distinct instance; callers must never cache and
// share one across sessions.
func Minimal(transportType string) *Context {
	return &Context{
		Headers: map[string]string{},
		Params:  map[string]string{},
		meta:    map[string]any{"transport_type": transportType},
	}
}

// Meta returns the value stored under key, and whether it was present.
func (c *Context) Meta(key string) (any, bool) {
	v, ok := c.meta[key]
	return v, ok
}

// TransportType is a convenience accessor for the meta field every
// context is required to carry.
func (c *Context) TransportType() string {
	v, _ := c.Meta("transport_type")
	s, _ := v.(string)
	return s
}

// RemoteAddr is a convenience accessor; empty when unknown.
func (c *Context) RemoteAddr() string {
	v, _ := c.Meta("remote_addr")
	s, _ := v.(string)
	return s
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
