// Package capability holds the minimal tool/resource/prompt/root
// registration surface the dispatcher routes into. The handler bodies
// themselves, and validating their arguments against a schema, are out
// of this runtime's scope (the spec treats both as external
// collaborators) — this package only describes what a capability looks
// like to the core.
package capability

import (
	"context"
	"encoding/json"

	"github.com/mcpkit/runtime/internal/session"
	"github.com/mcpkit/runtime/jsonschema"
)

// Handler executes one invocation of a registered capability. rawArgs is
// the still-encoded "arguments"/"params" payload; decoding and
// validating it is the handler's job.
type Handler func(ctx context.Context, sess *session.Session, rawArgs json.RawMessage) (any, error)

// Tool is a callable capability exposed via tools/call.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

func (Tool) ResourceKind() string { return "tool" }

// Resource is a readable capability exposed via resources/read.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     Handler
}

func (Resource) ResourceKind() string { return "resource" }

// Prompt is a templated capability exposed via prompts/get.
type Prompt struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

func (Prompt) ResourceKind() string { return "prompt" }

// Root is a filesystem/URI root the server advertises to clients. Roots
// have no handler: they are descriptive only.
type Root struct {
	URI  string
	Name string
}

func (Root) ResourceKind() string { return "root" }

// Registry holds the capability catalog. It has no internal locking:
// concurrent lookups are safe only once registration has finished, and
// registering while other goroutines read or register is not safe.
type Registry struct {
	tools     map[string]*Tool
	resources map[string]*Resource
	prompts   map[string]*Prompt
	roots     []*Root
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*Tool),
		resources: make(map[string]*Resource),
		prompts:   make(map[string]*Prompt),
	}
}

func (r *Registry) AddTool(t *Tool)         { r.tools[t.Name] = t }
func (r *Registry) AddResource(res *Resource) { r.resources[res.URI] = res }
func (r *Registry) AddPrompt(p *Prompt)     { r.prompts[p.Name] = p }
func (r *Registry) AddRoot(root *Root)      { r.roots = append(r.roots, root) }

func (r *Registry) Tool(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Resource(uri string) (*Resource, bool) {
	res, ok := r.resources[uri]
	return res, ok
}

func (r *Registry) Prompt(name string) (*Prompt, bool) {
	p, ok := r.prompts[name]
	return p, ok
}

func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

func (r *Registry) Resources() []*Resource {
	out := make([]*Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	return out
}

func (r *Registry) Prompts() []*Prompt {
	out := make([]*Prompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Roots() []*Root {
	return append([]*Root(nil), r.roots...)
}
