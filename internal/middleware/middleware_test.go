package middleware

import (
	"errors"
	"testing"
)

func TestExecuteRunsInPriorityOrder(t *testing.T) {
	m := NewManager()
	var order []string

	m.Register("c", []HookType{BeforeToolCall}, 50, Conditions{}, func(ctx *Context) error {
		order = append(order, "priority-50")
		return nil
	})
	m.Register("a", []HookType{BeforeToolCall}, 10, Conditions{}, func(ctx *Context) error {
		order = append(order, "priority-10")
		return nil
	})
	m.Register("b", []HookType{BeforeToolCall}, 10, Conditions{}, func(ctx *Context) error {
		order = append(order, "priority-10-second")
		return nil
	})

	ctx := NewContext("tool_call", "navigate", nil, nil, nil)
	if err := m.Execute(BeforeToolCall, ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"priority-10", "priority-10-second", "priority-50"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestSkipRemainingHooksStopsChain(t *testing.T) {
	m := NewManager()
	var ran []string

	m.Register("first", []HookType{BeforeToolCall}, 10, Conditions{}, func(ctx *Context) error {
		ran = append(ran, "first")
		ctx.SkipRemainingHooks = true
		return nil
	})
	m.Register("second", []HookType{BeforeToolCall}, 20, Conditions{}, func(ctx *Context) error {
		ran = append(ran, "second")
		return nil
	})

	ctx := NewContext("tool_call", "navigate", nil, nil, nil)
	if err := m.Execute(BeforeToolCall, ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ran) != 1 || ran[0] != "first" {
		t.Errorf("ran = %v, want [first]", ran)
	}
}

func TestCriticalHookErrorAbortsChain(t *testing.T) {
	m := NewManager()
	var ranSecond bool

	m.Register("guard", []HookType{BeforeToolCall}, 10, Conditions{Critical: true}, func(ctx *Context) error {
		return errors.New("boom")
	})
	m.Register("after", []HookType{BeforeToolCall}, 20, Conditions{}, func(ctx *Context) error {
		ranSecond = true
		return nil
	})

	ctx := NewContext("tool_call", "navigate", nil, nil, nil)
	err := m.Execute(BeforeToolCall, ctx)
	if err == nil {
		t.Fatal("expected error from critical hook to propagate")
	}
	if ranSecond {
		t.Error("chain should have aborted before the second hook ran")
	}
	if ctx.Err == nil {
		t.Error("ctx.Err should be set on abort")
	}
}

func TestMiddlewareErrorAlwaysAbortsEvenWithoutCritical(t *testing.T) {
	m := NewManager()
	var ranSecond bool

	m.Register("guard", []HookType{BeforeToolCall}, 10, Conditions{}, func(ctx *Context) error {
		return &Error{MiddlewareClass: "auth", Reason: "denied"}
	})
	m.Register("after", []HookType{BeforeToolCall}, 20, Conditions{}, func(ctx *Context) error {
		ranSecond = true
		return nil
	})

	ctx := NewContext("tool_call", "navigate", nil, nil, nil)
	if err := m.Execute(BeforeToolCall, ctx); err == nil {
		t.Fatal("expected *Error to abort the chain")
	}
	if ranSecond {
		t.Error("chain should have aborted")
	}
}

func TestNonCriticalErrorIsLoggedAndSkipped(t *testing.T) {
	m := NewManager()
	var ranSecond bool

	m.Register("flaky", []HookType{BeforeToolCall}, 10, Conditions{}, func(ctx *Context) error {
		return errors.New("transient")
	})
	m.Register("after", []HookType{BeforeToolCall}, 20, Conditions{}, func(ctx *Context) error {
		ranSecond = true
		return nil
	})

	ctx := NewContext("tool_call", "navigate", nil, nil, nil)
	if err := m.Execute(BeforeToolCall, ctx); err != nil {
		t.Fatalf("non-critical error should not propagate, got %v", err)
	}
	if !ranSecond {
		t.Error("chain should continue past a non-critical error")
	}
}

func TestOperationTypeScoping(t *testing.T) {
	m := NewManager()
	var ran bool
	m.Register("resource-only", []HookType{BeforeResourceRead}, 10, Conditions{}, func(ctx *Context) error {
		ran = true
		return nil
	})

	// before_resource_read is scoped to resource_read; a tool_call context
	// must not trigger it even if someone calls Execute with that type.
	ctx := NewContext("tool_call", "navigate", nil, nil, nil)
	if err := m.Execute(BeforeResourceRead, ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("hook scoped to resource_read should not run for a tool_call context")
	}
}

func TestGenericTransportHookMatchesAnyOperation(t *testing.T) {
	m := NewManager()
	count := 0
	m.Register("audit", []HookType{BeforeRequest}, 10, Conditions{}, func(ctx *Context) error {
		count++
		return nil
	})

	for _, opType := range []string{"tool_call", "resource_read", "prompt_get", "sampling", "authentication"} {
		ctx := NewContext(opType, "x", nil, nil, nil)
		if err := m.Execute(BeforeRequest, ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if count != 5 {
		t.Errorf("generic hook ran %d times, want 5", count)
	}
}

func TestOnlyOperationsAndExceptUsersConditions(t *testing.T) {
	m := NewManager()
	var ran bool
	m.Register("scoped", []HookType{BeforeToolCall}, 10, Conditions{
		OnlyOperations: []string{"navigate"},
		ExceptUsers:    []string{"admin"},
	}, func(ctx *Context) error {
		ran = true
		return nil
	})

	ctx := NewContext("tool_call", "click", nil, nil, nil)
	m.Execute(BeforeToolCall, ctx)
	if ran {
		t.Error("hook should not run for an operation not in OnlyOperations")
	}

	ran = false
	ctx = NewContext("tool_call", "navigate", nil, nil, nil)
	ctx.Metadata["user_id"] = "admin"
	m.Execute(BeforeToolCall, ctx)
	if ran {
		t.Error("hook should not run for a user in ExceptUsers")
	}

	ran = false
	ctx = NewContext("tool_call", "navigate", nil, nil, nil)
	ctx.Metadata["user_id"] = "regular"
	m.Execute(BeforeToolCall, ctx)
	if !ran {
		t.Error("hook should run when conditions are satisfied")
	}
}

func TestTimingMetadataAttached(t *testing.T) {
	m := NewManager()
	m.Register("noop", []HookType{BeforeToolCall}, 10, Conditions{}, func(ctx *Context) error {
		return nil
	})
	ctx := NewContext("tool_call", "navigate", nil, nil, nil)
	m.Execute(BeforeToolCall, ctx)

	timing, ok := ctx.Metadata["_hook_timing"].(map[string]any)
	if !ok {
		t.Fatal("expected _hook_timing metadata")
	}
	if timing["executed_count"] != 1 {
		t.Errorf("executed_count = %v, want 1", timing["executed_count"])
	}
}

func TestParamsAreDeepCopiedAndImmutable(t *testing.T) {
	params := map[string]any{"nested": map[string]any{"x": 1}}
	ctx := NewContext("tool_call", "navigate", params, nil, nil)

	params["nested"].(map[string]any)["x"] = 999
	got := ctx.Params.(map[string]any)["nested"].(map[string]any)["x"]
	if got != 1 {
		t.Errorf("ctx.Params was mutated via the original reference: got %v", got)
	}
}
