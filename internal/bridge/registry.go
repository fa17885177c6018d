// Package bridge implements the session-routing and state-synchronization
// core: pairing each MCP session with one live viewer connection, routing
// commands to it, correlating state queries with their responses, and
// caching the last known scene state per session.
package bridge

import (
	"log/slog"
	"sync"
)

// Conn is a live duplex channel to one viewer instance. Implemented by the
// websocket layer; faked in tests.
type Conn interface {
	// Send serializes v as JSON and queues it for delivery. Returns an
	// error if the connection is closed or its send buffer is full.
	Send(v any) error
	Close() error
}

// Registry maps a session id to exactly one live viewer connection.
// Last writer wins on re-registration; a superseded connection is not
// closed explicitly, it is expected to close itself.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		logger: ensureLogger(logger),
	}
}

// Register stores or overwrites the connection for the session.
func (r *Registry) Register(sessionID string, conn Conn) {
	r.mu.Lock()
	_, superseded := r.conns[sessionID]
	r.conns[sessionID] = conn
	r.mu.Unlock()

	if superseded {
		r.logger.Info("viewer connection superseded", slog.String("session_id", sessionID))
	} else {
		r.logger.Info("viewer connection registered", slog.String("session_id", sessionID))
	}
}

// Lookup returns the connection for the session, if any.
func (r *Registry) Lookup(sessionID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[sessionID]
	return conn, ok
}

// Unregister removes the session mapping and reports whether it removed
// anything. When conn is non-nil the mapping is removed only if conn is
// still the registered connection: a superseded connection closing later
// must not evict its replacement. Idempotent when the mapping is absent.
func (r *Registry) Unregister(sessionID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[sessionID]
	if !ok {
		return false
	}
	if conn != nil && current != conn {
		return false
	}
	delete(r.conns, sessionID)
	return true
}

// Sessions returns a snapshot of the registered session ids.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns))
	for sid := range r.conns {
		out = append(out, sid)
	}
	return out
}

// Conns returns a snapshot of the registered connections.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
