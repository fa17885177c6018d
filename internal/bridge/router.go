package bridge

import "log/slog"

// Router delivers commands and state requests to viewer connections.
// Per-session delivery is FIFO relative to RouteToSession call order for
// that session (single connection, ordered transport); there is no
// ordering guarantee across sessions and no delivery guarantee at all.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{registry: registry, logger: ensureLogger(logger)}
}

// RouteToSession sends the payload to the session's viewer and reports
// whether it was handed to a live connection. A missing or dead connection
// is not an error: the command was accepted, there is just no viewer to
// apply it, and the caller reports that as a soft success.
func (r *Router) RouteToSession(sessionID string, payload any) bool {
	conn, ok := r.registry.Lookup(sessionID)
	if !ok {
		r.logger.Warn("no viewer connection for session, dropping payload",
			slog.String("session_id", sessionID))
		return false
	}

	if err := conn.Send(payload); err != nil {
		r.logger.Warn("send to viewer failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// Broadcast sends the payload to every registered connection and returns
// the delivery count. This is the degraded-mode path for deployments with
// no usable session identity; it is never mixed with RouteToSession in a
// single call path.
func (r *Router) Broadcast(payload any) int {
	delivered := 0
	for _, conn := range r.registry.Conns() {
		if err := conn.Send(payload); err != nil {
			r.logger.Warn("broadcast send failed", slog.String("error", err.Error()))
			continue
		}
		delivered++
	}
	return delivered
}
