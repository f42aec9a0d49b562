// Package dispatcher routes a decoded JSON-RPC method to its capability
// handler, running the middleware manager's before/after/on-error hooks
// around the call.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mcpkit/runtime/internal/capability"
	"github.com/mcpkit/runtime/internal/jsonrpc"
	"github.com/mcpkit/runtime/internal/middleware"
	"github.com/mcpkit/runtime/internal/protoerr"
	"github.com/mcpkit/runtime/internal/session"
)

// Dispatcher binds a capability registry to the middleware pipeline.
type Dispatcher struct {
	registry   *capability.Registry
	middleware *middleware.Manager
	logger     *slog.Logger
}

// New builds a Dispatcher. logger may be nil (defaults to slog.Default()).
func New(registry *capability.Registry, mw *middleware.Manager, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, middleware: mw, logger: logger}
}

// Protocol version and server identity returned from "initialize". The
// runtime speaks one fixed protocol revision; a client that cannot accept
// it is expected to disconnect per the MCP handshake.
const (
	protocolVersion = "2024-11-05"
	serverName      = "mcpkit-server"
	serverVersion   = "0.1.0"
)

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

type promptGetParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Dispatch executes req against the registry, returning the JSON-RPC
// response to send. req.IsNotification() callers should not send the
// result anywhere, but Dispatch still runs the handler for its side
// effects and returns a response body the caller is free to discard.
//
// Every call runs through the generic before_request/after_response
// hooks first, regardless of method — this is the one chokepoint both
// transports route every decoded request through, so it's where
// transport-agnostic concerns like authentication on initialize/ping/
// list methods (which have no operation-scoped hook of their own) live.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, req *jsonrpc.Request) *jsonrpc.Response {
	mctx := middleware.NewContext("request", req.Method, req.Params, sess, nil)
	if err := d.middleware.Execute(middleware.BeforeRequest, mctx); err != nil {
		return d.errorResponse(req, err)
	}

	result, err := d.route(ctx, sess, req.Method, req.Params)
	mctx.Result = result
	mctx.Err = err
	d.middleware.Execute(middleware.AfterResponse, mctx)

	if err != nil {
		return d.errorResponse(req, err)
	}
	resp, err := jsonrpc.NewResponse(responseID(req), result)
	if err != nil {
		return d.errorResponse(req, protoerr.Internal(err))
	}
	return resp
}

// NotifyTransportError runs the generic on_transport_error hook for a
// failure a transport hit before it could even decode a dispatchable
// request (e.g. a JSON-RPC parse error). sess may be nil if the failure
// happened before a session was resolved.
func (d *Dispatcher) NotifyTransportError(sess *session.Session, transportErr error) {
	mctx := middleware.NewContext("transport_error", "", nil, sess, nil)
	mctx.Err = transportErr
	d.middleware.Execute(middleware.OnTransportError, mctx)
}

func responseID(req *jsonrpc.Request) any {
	if req.HasID() {
		return req.ID
	}
	return nil
}

func (d *Dispatcher) errorResponse(req *jsonrpc.Request, err error) *jsonrpc.Response {
	pe, ok := protoerr.As(err)
	if !ok {
		pe = protoerr.Internal(err)
	}
	return jsonrpc.NewErrorResponse(responseID(req), &jsonrpc.Error{Code: pe.Code, Message: pe.Error()})
}

func (d *Dispatcher) route(ctx context.Context, sess *session.Session, method string, rawParams json.RawMessage) (any, error) {
	switch method {
	case "initialize":
		return d.initialize(), nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": toolSummaries(d.registry.Tools())}, nil
	case "resources/list":
		return map[string]any{"resources": resourceSummaries(d.registry.Resources())}, nil
	case "prompts/list":
		return map[string]any{"prompts": promptSummaries(d.registry.Prompts())}, nil
	case "tools/call":
		return d.callTool(ctx, sess, rawParams)
	case "resources/read":
		return d.readResource(ctx, sess, rawParams)
	case "prompts/get":
		return d.getPrompt(ctx, sess, rawParams)
	default:
		return nil, protoerr.MethodNotFound(method)
	}
}

// initialize answers the handshake every MCP client sends first. It
// doesn't depend on the client's declared capabilities: this runtime's
// own capability set never varies by caller.
func (d *Dispatcher) initialize() any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
	}
}

func (d *Dispatcher) callTool(ctx context.Context, sess *session.Session, rawParams json.RawMessage) (any, error) {
	var params toolCallParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, protoerr.InvalidParams(err.Error())
	}
	tool, ok := d.registry.Tool(params.Name)
	if !ok {
		return nil, protoerr.NotFound("tool", params.Name)
	}

	mctx := middleware.NewContext("tool_call", params.Name, decodeArgs(params.Arguments), sess, nil)
	if err := d.middleware.Execute(middleware.BeforeToolCall, mctx); err != nil {
		return nil, protoerr.InvalidRequest(err.Error())
	}
	if mctx.Err != nil {
		return nil, protoerr.InvalidRequest(mctx.Err.Error())
	}

	result, err := tool.Handler(ctx, sess, params.Arguments)
	mctx.Result = result
	mctx.Err = err

	if err != nil {
		d.middleware.Execute(middleware.OnToolError, mctx)
		return nil, protoerr.Internal(err)
	}
	d.middleware.Execute(middleware.AfterToolCall, mctx)
	return mctx.Result, nil
}

func (d *Dispatcher) readResource(ctx context.Context, sess *session.Session, rawParams json.RawMessage) (any, error) {
	var params resourceReadParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, protoerr.InvalidParams(err.Error())
	}
	res, ok := d.registry.Resource(params.URI)
	if !ok {
		return nil, protoerr.NotFound("resource", params.URI)
	}

	mctx := middleware.NewContext("resource_read", params.URI, nil, sess, nil)
	if err := d.middleware.Execute(middleware.BeforeResourceRead, mctx); err != nil || mctx.Err != nil {
		return nil, protoerr.InvalidRequest("resource read denied")
	}

	return res.Handler(ctx, sess, rawParams)
}

func (d *Dispatcher) getPrompt(ctx context.Context, sess *session.Session, rawParams json.RawMessage) (any, error) {
	var params promptGetParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, protoerr.InvalidParams(err.Error())
	}
	p, ok := d.registry.Prompt(params.Name)
	if !ok {
		return nil, protoerr.NotFound("prompt", params.Name)
	}

	mctx := middleware.NewContext("prompt_get", params.Name, decodeArgs(params.Arguments), sess, nil)
	if err := d.middleware.Execute(middleware.BeforePromptGet, mctx); err != nil || mctx.Err != nil {
		return nil, protoerr.InvalidRequest("prompt get denied")
	}

	return p.Handler(ctx, sess, params.Arguments)
}

func decodeArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func toolSummaries(tools []*capability.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{"name": t.Name, "description": t.Description, "inputSchema": t.InputSchema})
	}
	return out
}

func resourceSummaries(resources []*capability.Resource) []map[string]any {
	out := make([]map[string]any, 0, len(resources))
	for _, r := range resources {
		out = append(out, map[string]any{"uri": r.URI, "name": r.Name, "mimeType": r.MimeType})
	}
	return out
}

func promptSummaries(prompts []*capability.Prompt) []map[string]any {
	out := make([]map[string]any, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, map[string]any{"name": p.Name, "description": p.Description})
	}
	return out
}
