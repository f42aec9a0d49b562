// Package middleware implements the priority-ordered hook pipeline that
// wraps every dispatcher operation: tool calls, resource reads, prompt
// gets, sampling requests, authentication, and the generic transport
// lifecycle.
//
// The teacher SDK's own middleware is a single linear chain of
// next-wrapping functions (mcp.Middleware[S]); that shape has no room for
// per-hook priority, conditions, or a distinction between hook types, so
// this package instead keeps a priority-sorted registry per hook type and
// runs matching hooks in order, closer to a plugin-manager design.
package middleware

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HookType names a point in the request lifecycle a hook can attach to.
type HookType string

const (
	BeforeToolCall       HookType = "before_tool_call"
	AfterToolCall        HookType = "after_tool_call"
	OnToolError          HookType = "on_tool_error"
	BeforeResourceRead   HookType = "before_resource_read"
	BeforePromptGet      HookType = "before_prompt_get"
	BeforeSampling       HookType = "before_sampling"
	BeforeAuthentication HookType = "before_authentication"

	// Generic transport hooks: these match every operation type.
	BeforeRequest    HookType = "before_request"
	AfterResponse    HookType = "after_response"
	OnTransportError HookType = "on_transport_error"
)

// operationTypeFor reports the operation type a non-generic hook type is
// scoped to. Generic hook types return ("", false): they match any
// operation.
func operationTypeFor(ht HookType) (string, bool) {
	switch ht {
	case BeforeToolCall, AfterToolCall, OnToolError:
		return "tool_call", true
	case BeforeResourceRead:
		return "resource_read", true
	case BeforePromptGet:
		return "prompt_get", true
	case BeforeSampling:
		return "sampling", true
	case BeforeAuthentication:
		return "authentication", true
	default:
		return "", false
	}
}

// Conditions gates whether a registered hook runs for a given context.
type Conditions struct {
	OnlyOperations   []string
	ExceptOperations []string
	OnlyUsers        []string
	ExceptUsers      []string
	// Critical escalates any error the hook function returns (not just
	// *Error) into one that aborts the remaining chain.
	Critical bool
}

func (c Conditions) matches(ctx *Context) bool {
	if len(c.OnlyOperations) > 0 && !contains(c.OnlyOperations, ctx.OperationName) {
		return false
	}
	if contains(c.ExceptOperations, ctx.OperationName) {
		return false
	}
	userID := ctx.UserID()
	if len(c.OnlyUsers) > 0 && !contains(c.OnlyUsers, userID) {
		return false
	}
	if userID != "" && contains(c.ExceptUsers, userID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// HookFunc is the body of a registered hook. It mutates ctx in place.
type HookFunc func(ctx *Context) error

// Error is a middleware-originated failure. Unlike an arbitrary error
// returned by a non-critical hook, an *Error always aborts the chain.
type Error struct {
	MiddlewareClass string
	Reason          string
}

func (e *Error) Error() string {
	return fmt.Sprintf("middleware %s: %s", e.MiddlewareClass, e.Reason)
}

type hook struct {
	class      string
	hookType   HookType
	priority   int
	conditions Conditions
	fn         HookFunc
	index      int // registration order, tie-breaks priority
}

// Context carries the mutable state threaded through one hook-type
// execution. Params is a frozen snapshot taken at construction; hooks
// must not rely on mutating it to pass data forward — use Metadata.
type Context struct {
	OperationType string
	OperationName string
	Params        any // deep copy, immutable after construction
	Session       any
	Server        any

	Metadata map[string]any
	Result   any
	Err      error

	SkipRemainingHooks bool
}

// NewContext builds a Context with frozen params and an empty metadata
// map ready for hooks to annotate.
func NewContext(operationType, operationName string, params any, sessionRef, serverRef any) *Context {
	return &Context{
		OperationType: operationType,
		OperationName: operationName,
		Params:        deepCopy(params),
		Session:       sessionRef,
		Server:        serverRef,
		Metadata:      make(map[string]any),
	}
}

// UserID reads a conventional "user_id" metadata key set by an earlier
// authentication hook, or "" if none has run yet.
func (c *Context) UserID() string {
	v, _ := c.Metadata["user_id"].(string)
	return v
}

// Manager is the priority-sorted hook registry and execution engine.
type Manager struct {
	mu       sync.RWMutex
	hooks    map[HookType][]*hook
	nextIdx  int
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{hooks: make(map[HookType][]*hook)}
}

// Register adds a hook under every hookType listed, at the given
// priority (lower runs earlier; ties break by registration order).
// priority == 0 is treated as the documented default, 100.
func (m *Manager) Register(class string, hookTypes []HookType, priority int, conditions Conditions, fn HookFunc) {
	if priority == 0 {
		priority = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ht := range hookTypes {
		h := &hook{class: class, hookType: ht, priority: priority, conditions: conditions, fn: fn, index: m.nextIdx}
		m.nextIdx++
		m.hooks[ht] = insertSorted(m.hooks[ht], h)
	}
}

func insertSorted(hooks []*hook, h *hook) []*hook {
	i := 0
	for ; i < len(hooks); i++ {
		if h.priority < hooks[i].priority {
			break
		}
		if h.priority == hooks[i].priority && h.index < hooks[i].index {
			break
		}
	}
	hooks = append(hooks, nil)
	copy(hooks[i+1:], hooks[i:])
	hooks[i] = h
	return hooks
}

// Execute runs every hook registered for hookType whose operation-type
// scope and conditions match ctx, in priority order, until the chain
// ends, a hook sets ctx.SkipRemainingHooks, or a hook's error aborts it.
func (m *Manager) Execute(hookType HookType, ctx *Context) error {
	start := time.Now()

	m.mu.RLock()
	matching := append([]*hook(nil), m.hooks[hookType]...)
	m.mu.RUnlock()

	scopedType, scoped := operationTypeFor(hookType)

	executed := 0
	for _, h := range matching {
		if scoped && ctx.OperationType != scopedType {
			continue
		}
		if !h.conditions.matches(ctx) {
			continue
		}

		executed++
		err := h.fn(ctx)
		if err == nil {
			if ctx.SkipRemainingHooks {
				break
			}
			continue
		}

		if _, isMiddlewareErr := err.(*Error); isMiddlewareErr || h.conditions.Critical {
			ctx.Err = err
			m.attachTiming(ctx, hookType, start, executed, len(matching))
			return err
		}
		// Non-critical failure: log it and continue the chain.
		slog.Default().Warn("middleware hook failed", "class", h.class, "hook_type", string(hookType), "error", err)
	}

	m.attachTiming(ctx, hookType, start, executed, len(matching))
	return nil
}

func (m *Manager) attachTiming(ctx *Context, hookType HookType, start time.Time, executed, total int) {
	ctx.Metadata["_hook_timing"] = map[string]any{
		"hook_type":      string(hookType),
		"elapsed":        time.Since(start),
		"executed_count": executed,
		"total_count":    total,
	}
}

// deepCopy produces an independent copy of params for the limited set of
// shapes the dispatcher passes through (maps/slices of JSON-decoded
// values, or scalars). Anything else is returned as-is: it is the
// caller's responsibility not to hand middleware a mutable reference it
// cares about protecting.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = deepCopy(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = deepCopy(elem)
		}
		return out
	default:
		return v
	}
}
