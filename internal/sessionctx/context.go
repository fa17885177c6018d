// Package sessionctx carries the ambient session identity of an in-flight
// tool call. Handlers are registered once and invoked concurrently for
// different sessions, so the session id travels on the context.Context of
// each call rather than through parameters or a mutable global.
package sessionctx

import "context"

type ctxKey int

const sessionKey ctxKey = iota

// WithSession returns a context carrying the given session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// FromContext extracts the session id from the context, or "" if absent.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionKey).(string)
	return v
}
