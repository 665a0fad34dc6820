package delegatekit

import (
	"context"
)

// Context keys for delegatekit values.
type contextKey string

const (
	contextKeyActorID   contextKey = "delegatekit:actor_id"
	contextKeyIPAddress contextKey = "delegatekit:ip_address"
	contextKeyUserAgent contextKey = "delegatekit:user_agent"
	contextKeyRequestID contextKey = "delegatekit:request_id"
)

// WithActorID adds the acting delegator's id to the context. Every mutating
// Service call reads the actor from here.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, contextKeyActorID, actorID)
}

// GetActorID retrieves the actor id from context. Returns empty string if
// not set.
func GetActorID(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyActorID).(string); ok {
		return v
	}
	return ""
}

// WithIPAddress adds the client IP address to the context (for audit).
func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyIPAddress, ip)
}

// GetIPAddress retrieves the IP address from context.
func GetIPAddress(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// WithUserAgent adds the user agent to the context (for audit).
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, contextKeyUserAgent, ua)
}

// GetUserAgent retrieves the user agent from context.
func GetUserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyUserAgent).(string); ok {
		return v
	}
	return ""
}

// WithRequestID adds a request id to the context (for audit correlation).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID retrieves the request id from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// RequestContext holds the audit-relevant request metadata from context.
type RequestContext struct {
	ActorID   string
	IPAddress string
	UserAgent string
	RequestID string
}

// GetRequestContext extracts all request metadata from context at once.
func GetRequestContext(ctx context.Context) RequestContext {
	return RequestContext{
		ActorID:   GetActorID(ctx),
		IPAddress: GetIPAddress(ctx),
		UserAgent: GetUserAgent(ctx),
		RequestID: GetRequestID(ctx),
	}
}

// WithRequestContext adds all request metadata to context at once.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	if rc.ActorID != "" {
		ctx = WithActorID(ctx, rc.ActorID)
	}
	if rc.IPAddress != "" {
		ctx = WithIPAddress(ctx, rc.IPAddress)
	}
	if rc.UserAgent != "" {
		ctx = WithUserAgent(ctx, rc.UserAgent)
	}
	if rc.RequestID != "" {
		ctx = WithRequestID(ctx, rc.RequestID)
	}
	return ctx
}
