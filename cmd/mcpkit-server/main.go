// Command mcpkit-server runs the MCP runtime over the stdio transport, the
// streamable-HTTP transport, or the deprecated shared-session SSE
// transport, wiring together the session manager, event store, command
// queue, middleware pipeline, security middleware, and dispatcher
// described by the runtime package tree.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcpkit/runtime/internal/bridge"
	"github.com/mcpkit/runtime/internal/capability"
	"github.com/mcpkit/runtime/internal/commandqueue"
	"github.com/mcpkit/runtime/internal/dispatcher"
	"github.com/mcpkit/runtime/internal/eventstore"
	"github.com/mcpkit/runtime/internal/logging"
	"github.com/mcpkit/runtime/internal/middleware"
	"github.com/mcpkit/runtime/internal/protoerr"
	"github.com/mcpkit/runtime/internal/security"
	"github.com/mcpkit/runtime/internal/session"
	"github.com/mcpkit/runtime/internal/transport/httpstream"
	"github.com/mcpkit/runtime/internal/transport/stdio"
)

func main() {
	var (
		mode              = flag.String("mode", "stdio", "transport to run: stdio, http, or sse-legacy")
		host              = flag.String("host", "localhost", "host to listen on (http mode)")
		port              = flag.String("port", "8080", "port to listen on (http mode)")
		mcpPath           = flag.String("mcp-path", "/mcp", "path the streamable-HTTP transport is served on")
		sessionTimeout    = flag.Duration("session-timeout", session.DefaultSessionTimeout, "session inactivity timeout")
		eventCapacity     = flag.Int("event-capacity", 1024, "max events retained per process for SSE replay")
		heartbeatInterval = flag.Duration("heartbeat-interval", httpstream.DefaultHeartbeatInterval, "SSE heartbeat interval")
		apiKey            = flag.String("api-key", "", "if set, require this API key (X-API-Key header) on every request")
		enableBridge      = flag.Bool("enable-browser-bridge", false, "serve the /browser/* command bridge endpoints alongside the MCP transport")
	)
	flag.Parse()

	logger := logging.Setup(*mode == "stdio")

	registry := capability.NewRegistry()
	registerBuiltinTools(registry)

	mw := middleware.NewManager()
	sec := security.New()
	if *apiKey != "" {
		sec.RegisterStrategy("api_key", security.NewAPIKeyStrategy("", map[string]*security.User{
			*apiKey: {ID: "default", Role: "operator"},
		}))
		sec.RequireAuthentication(true)
	}
	installAuthHook(mw, sec)

	d := dispatcher.New(registry, mw, logger)

	switch *mode {
	case "stdio":
		runStdio(d, logger, *sessionTimeout)
	case "http":
		runHTTP(d, logger, *host, *port, *mcpPath, *sessionTimeout, *eventCapacity, *heartbeatInterval, sec, *enableBridge)
	case "sse-legacy":
		runSSELegacy(d, logger, *host, *port, *mcpPath, *sessionTimeout, *eventCapacity, *heartbeatInterval)
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q: must be stdio, http, or sse-legacy\n", *mode)
		os.Exit(2)
	}
}

// installAuthHook wires the security middleware into the generic
// before_request hook, which Dispatch runs for every method before
// routing it — including initialize/ping/list methods that have no
// operation-scoped before_* hook of their own. Registering once here,
// instead of once per operation-scoped hook type, also means the rate
// limiter inside sec.ProcessRequest is consulted exactly once per
// request rather than once per hook type it's attached to.
func installAuthHook(mw *middleware.Manager, sec *security.Middleware) {
	mw.Register("security", []middleware.HookType{middleware.BeforeRequest}, 10, middleware.Conditions{Critical: true}, func(ctx *middleware.Context) error {
		result := sec.ProcessRequest(securityRequestFor(ctx), ctx.OperationType, ctx.Params)
		if !result.Success {
			return securityError(result)
		}
		return nil
	})
}

// securityError translates a failed ProcessResult into the protoerr type
// carrying the matching §7 JSON-RPC code, so the transport's HTTP status
// mapping (derived from that code) lands on 401/403/429 instead of the
// generic 500 (-32603 internal error) a bare *middleware.Error would
// produce.
func securityError(result security.ProcessResult) error {
	switch result.Code {
	case "AUTHENTICATION_REQUIRED":
		return protoerr.AuthRequired()
	case "AUTHORIZATION_FAILED":
		return protoerr.AuthorizationFailed()
	case "RATE_LIMITED":
		return protoerr.RateLimited()
	default:
		return protoerr.ServerError(result.Code)
	}
}

// securityRequestFor builds the transport-agnostic security.Request from
// the live session a hook's Context carries, rather than authenticating
// against an empty, header-less stand-in.
func securityRequestFor(ctx *middleware.Context) *security.Request {
	sess, ok := ctx.Session.(*session.Session)
	if !ok || sess == nil || sess.Context == nil {
		return &security.Request{}
	}
	return &security.Request{
		Method:     sess.Context.Method,
		Path:       sess.Context.Path,
		Headers:    sess.Context.Headers,
		Params:     sess.Context.Params,
		RemoteAddr: sess.Context.RemoteAddr(),
	}
}

func runStdio(d *dispatcher.Dispatcher, logger *slog.Logger, timeout time.Duration) {
	sessions := session.NewManager(timeout)
	srv := stdio.New(d, sessions, logger)
	if err := srv.RunUntilInterrupt(); err != nil {
		logger.Error("stdio transport exited with error", "error", err)
		os.Exit(1)
	}
}

func runHTTP(d *dispatcher.Dispatcher, logger *slog.Logger, host, port, mcpPath string, timeout time.Duration, eventCapacity int, heartbeat time.Duration, sec *security.Middleware, enableBridge bool) {
	base := session.NewManager(timeout)
	base.StartAutoCleanup(60 * time.Second)
	httpSessions := session.NewHTTPManager(base)
	events := eventstore.New(eventCapacity)

	h := httpstream.New(d, httpSessions, events, heartbeat, logger)
	mux := h.Mux(mcpPath)

	if enableBridge {
		queue := commandqueue.New()
		br := bridge.New(queue, sec, 0, logger)
		mux.Handle("/browser/", br.Mux())
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	server := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.Shutdown(shutdownCtx)
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("mcp streamable-http transport listening", "addr", addr, "path", mcpPath)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http transport exited with error", "error", err)
		os.Exit(1)
	}
}

// runSSELegacy serves the deprecated shared-session SSE transport: one
// session for the whole process, with clients distinguished only by a
// client_id query parameter instead of a per-client session header.
func runSSELegacy(d *dispatcher.Dispatcher, logger *slog.Logger, host, port, mcpPath string, timeout time.Duration, eventCapacity int, heartbeat time.Duration) {
	sessions := session.NewLegacyManager(logger, timeout)
	events := eventstore.New(eventCapacity)

	h := httpstream.NewLegacyHandler(d, sessions, events, heartbeat, logger)
	mux := h.Mux(mcpPath)

	addr := fmt.Sprintf("%s:%s", host, port)
	server := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		h.Shutdown()
	}()

	logger.Info("legacy sse transport listening", "addr", addr, "path", mcpPath)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("sse-legacy transport exited with error", "error", err)
		os.Exit(1)
	}
}

// registerBuiltinTools wires a minimal demonstration tool so the server is
// immediately useful out of the box; real deployments register their own
// capabilities against the same Registry before calling dispatcher.New.
func registerBuiltinTools(registry *capability.Registry) {
	registry.AddTool(&capability.Tool{
		Name:        "echo",
		Description: "Echoes back the provided arguments, for wiring smoke tests.",
		Handler: func(_ context.Context, _ *session.Session, raw json.RawMessage) (any, error) {
			var args map[string]any
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &args)
			}
			return map[string]any{"echoed": args}, nil
		},
	})
}
