// Package contextkeys carries the verified caller through a request context.
package contextkeys

import "context"

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const callerKey contextKey = "caller"

// Caller is the identity the auth middleware extracted from a bearer token.
type Caller struct {
	UserID string
	Email  string
	Role   string
}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller stored in ctx. ok is false for anonymous
// requests and for callers without a user ID.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok && c.UserID != ""
}
