// Package security implements pluggable request authentication and
// opt-in, per-resource-type authorization, plus an opt-in rate limiter
// keyed by remote address.
package security

import (
	"net/http"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mcpkit/runtime/internal/netutil"
)

// User is the record an authentication strategy produces on success.
type User struct {
	ID    string
	Role  string
	Extra map[string]any
}

// Request is the transport-agnostic shape a strategy authenticates
// against: headers/params/method/path, normalized by the caller from
// whatever the transport actually received.
type Request struct {
	Method     string
	Path       string
	Headers    map[string]string
	Params     map[string]string
	RemoteAddr string
}

func (r *Request) header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Strategy authenticates a Request, returning a User on success or false
// on failure (an unrecognized or invalid credential, never an error: the
// security middleware runs only its default strategy and treats a
// non-success as "not authenticated").
type Strategy interface {
	Authenticate(req *Request) (*User, bool)
}

// StrategyFunc adapts a function to Strategy, for the custom(f) case.
type StrategyFunc func(req *Request) (*User, bool)

func (f StrategyFunc) Authenticate(req *Request) (*User, bool) { return f(req) }

// PolicyFunc decides whether user may perform action on resource. It
// gates access only when enabled and a policy is registered for the
// resource's inferred type.
type PolicyFunc func(user *User, action string, resource any) bool

// ProcessResult is process_request's outcome.
type ProcessResult struct {
	Success        bool
	Code           string
	HTTPStatus     int
	SessionContext *User
}

// Middleware is the security gate: an opt-in rate limit, then
// authentication, then opt-in authorization.
type Middleware struct {
	mu              sync.RWMutex
	strategies      map[string]Strategy
	defaultStrategy string

	authRequired bool

	authzEnabled bool
	policies     map[string]PolicyFunc

	limiters   map[string]*rate.Limiter
	limiterMu  sync.Mutex
	rateLimit  rate.Limit
	rateBurst  int
	rateLimitOn bool
}

// New creates a Middleware with no strategies registered and
// authentication/authorization/rate-limiting all disabled (opt-in, per
// spec).
func New() *Middleware {
	return &Middleware{
		strategies: make(map[string]Strategy),
		policies:   make(map[string]PolicyFunc),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// RegisterStrategy adds a named authentication strategy. The first one
// registered becomes the default unless SetDefaultStrategy overrides it.
func (m *Middleware) RegisterStrategy(name string, s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[name] = s
	if m.defaultStrategy == "" {
		m.defaultStrategy = name
	}
}

// SetDefaultStrategy picks which registered strategy process_request
// uses when the caller doesn't override it.
func (m *Middleware) SetDefaultStrategy(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStrategy = name
}

// RequireAuthentication toggles whether process_request rejects requests
// that fail authentication. Off by default.
func (m *Middleware) RequireAuthentication(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authRequired = on
}

// EnableAuthorization toggles the opt-in authorization gate.
func (m *Middleware) EnableAuthorization(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authzEnabled = on
}

// AddPolicy registers (or replaces) the authorization policy for a
// resource type. Types with no policy allow access when authorization is
// enabled: policies are opt-in per type, not a default-deny gate.
func (m *Middleware) AddPolicy(resourceType string, f PolicyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[resourceType] = f
}

// EnableRateLimit turns on the per-remote-address token bucket, disabled
// by default to match the spec's opt-in posture for authorization.
func (m *Middleware) EnableRateLimit(requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitOn = true
	m.rateLimit = rate.Limit(requestsPerSecond)
	m.rateBurst = burst
}

func (m *Middleware) limiterFor(remoteAddr string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	l, ok := m.limiters[remoteAddr]
	if !ok {
		l = rate.NewLimiter(m.rateLimit, m.rateBurst)
		m.limiters[remoteAddr] = l
	}
	return l
}

// authenticate runs strategyName (or the default) against req.
func (m *Middleware) authenticate(req *Request, strategyName string) (*User, bool) {
	m.mu.RLock()
	name := strategyName
	if name == "" {
		name = m.defaultStrategy
	}
	s, ok := m.strategies[name]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Authenticate(req)
}

// ProcessRequest runs the rate-limit, authentication, and authorization
// gates in that order, producing a result a transport can translate
// directly to an HTTP status.
func (m *Middleware) ProcessRequest(req *Request, action string, resource any) ProcessResult {
	m.mu.RLock()
	rateOn := m.rateLimitOn
	authRequired := m.authRequired
	authzEnabled := m.authzEnabled
	m.mu.RUnlock()

	if rateOn && req.RemoteAddr != "" {
		if !m.limiterFor(netutil.RemoteAddr(req.RemoteAddr)).Allow() {
			return ProcessResult{Success: false, Code: "RATE_LIMITED", HTTPStatus: http.StatusTooManyRequests}
		}
	}

	user, authenticated := m.authenticate(req, "")
	if authRequired && !authenticated {
		return ProcessResult{Success: false, Code: "AUTHENTICATION_REQUIRED", HTTPStatus: http.StatusUnauthorized}
	}

	if authzEnabled && action != "" && resource != nil {
		resourceType := InferResourceType(resource)
		m.mu.RLock()
		policy, hasPolicy := m.policies[resourceType]
		m.mu.RUnlock()

		if hasPolicy && !safeCheck(policy, user, action, resource) {
			return ProcessResult{Success: false, Code: "AUTHORIZATION_FAILED", HTTPStatus: http.StatusForbidden}
		}
		// no policy for this type: access allowed, policies are opt-in.
	}

	return ProcessResult{Success: true, SessionContext: user}
}

// safeCheck runs a policy, treating a panic as deny (a misbehaving
// policy must never fail open).
func safeCheck(policy PolicyFunc, user *User, action string, resource any) (allowed bool) {
	defer func() {
		if recover() != nil {
			allowed = false
		}
	}()
	return policy(user, action, resource)
}

// ResourceKinder lets a resource self-report its nominal kind (tool,
// resource, prompt, root) instead of relying on reflection.
type ResourceKinder interface {
	ResourceKind() string
}

// InferResourceType resolves a resource's kind for policy lookup: the
// ResourceKinder interface if implemented, otherwise a best-effort guess
// from the Go type name's suffix.
func InferResourceType(resource any) string {
	if rk, ok := resource.(ResourceKinder); ok {
		return rk.ResourceKind()
	}
	t := reflect.TypeOf(resource)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(t.Name())
	switch {
	case strings.HasSuffix(name, "tool"):
		return "tool"
	case strings.HasSuffix(name, "resource"):
		return "resource"
	case strings.HasSuffix(name, "prompt"):
		return "prompt"
	case strings.HasSuffix(name, "root"):
		return "root"
	default:
		return name
	}
}
