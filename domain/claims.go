package domain

import "time"

// Context is the opaque envelope every command and query carries: the
// tenant and acting principal, plus a deadline the event store and
// projection runtime must respect. It is the in-process analogue of an
// incoming request — nothing here is transport-specific.
type Context struct {
	InstanceID string
	OrgID      string
	UserID     string
	RequestID  string
	Deadline   time.Time

	// Trace carries arbitrary caller-supplied metadata (e.g. client IP,
	// user agent) propagated into logs but never interpreted by commands.
	Trace map[string]string
}

// HasDeadline returns c.Deadline and whether one was set, matching the
// signature context.Context.Deadline uses so callers can feed it straight
// into a derived context.Context.
func (c Context) HasDeadline() (time.Time, bool) {
	return c.Deadline, !c.Deadline.IsZero()
}

// LifecycleState is the coarse active/inactive/removed state shared by
// orgs, projects, applications, and IDPs.
type LifecycleState string

const (
	StateActive   LifecycleState = "active"
	StateInactive LifecycleState = "inactive"
	StateRemoved  LifecycleState = "removed"
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// IntrospectionResult is the RFC 7662 response shape returned by the token
// engine's introspect operation. When Active is false every other field is
// left zero-valued.
type IntrospectionResult struct {
	Active    bool
	Scope     []string
	ClientID  string
	UserID    string
	TokenType TokenType
	Exp       int64
	Iat       int64
	Sub       string
	Aud       []string
	Iss       string
	JTI       string
}
