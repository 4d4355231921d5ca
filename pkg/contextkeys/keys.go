// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/gatehouse/pkg/contextkeys"
//	ctx = contextkeys.WithActorID(ctx, actorID)
//	actorID, ok := contextkeys.GetActorID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorIDKey contains the authenticated internal actor id
	// Set by: middleware.IdentityMiddleware (pkg/middleware/identity.go)
	// Required by: rbac.Guard, internal API endpoints
	// Type: string
	ActorIDKey Key = "actor_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail (correlation id), distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// DecisionKey contains the rbac.Decision that admitted the request
	// Set by: rbac.Guard
	// Used by: Handlers that echo or log the admitting decision
	// Type: rbac.Decision
	DecisionKey Key = "authz_decision"

	// PortalAccountIDKey contains the authenticated external portal account id
	// Set by: middleware.IdentityMiddleware
	// Used by: api portal handlers (account gate)
	// Type: string
	PortalAccountIDKey Key = "portal_account_id"

	// PortalAccessKey contains the *portal.AccessContext for a portal request
	// Set by: api portal handlers after token validation
	// Type: *portal.AccessContext
	PortalAccessKey Key = "portal_access"
)

// WithActorID adds the internal actor id to the context
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

// GetActorID retrieves the internal actor id from context
func GetActorID(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(ActorIDKey).(string)
	return actorID, ok && actorID != ""
}

// WithPortalAccountID adds the external portal account id to the context
func WithPortalAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, PortalAccountIDKey, accountID)
}

// GetPortalAccountID retrieves the external portal account id from context
func GetPortalAccountID(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(PortalAccountIDKey).(string)
	return accountID, ok && accountID != ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok
}

// WithDecision stores the admitting authorization decision
func WithDecision(ctx context.Context, decision interface{}) context.Context {
	return context.WithValue(ctx, DecisionKey, decision)
}

// GetDecision retrieves the admitting authorization decision
func GetDecision(ctx context.Context) interface{} {
	return ctx.Value(DecisionKey)
}

// WithPortalAccess stores the validated portal access context
func WithPortalAccess(ctx context.Context, access interface{}) context.Context {
	return context.WithValue(ctx, PortalAccessKey, access)
}

// GetPortalAccess retrieves the validated portal access context
func GetPortalAccess(ctx context.Context) interface{} {
	return ctx.Value(PortalAccessKey)
}
