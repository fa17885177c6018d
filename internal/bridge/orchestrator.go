package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/scenelink/scenelink/internal/logging"
	"github.com/scenelink/scenelink/internal/protocol"
	"github.com/scenelink/scenelink/pkg/scene"
)

// DefaultQueryTimeout bounds a live state round trip when no explicit
// timeout is configured.
const DefaultQueryTimeout = 2 * time.Second

// Orchestrator answers state queries: cache-first by default, live round
// trip on demand, cache fallback on live failure.
type Orchestrator struct {
	router  *Router
	pending *PendingTable
	cache   *StateCache
	timeout time.Duration
	logger  *slog.Logger
	newID   func() string
}

// NewOrchestrator creates a state query orchestrator. A non-positive
// timeout falls back to DefaultQueryTimeout.
func NewOrchestrator(router *Router, pending *PendingTable, cache *StateCache, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Orchestrator{
		router:  router,
		pending: pending,
		cache:   cache,
		timeout: timeout,
		logger:  ensureLogger(logger),
		newID:   uuid.NewString,
	}
}

// Cache exposes the orchestrator's state cache.
func (o *Orchestrator) Cache() *StateCache {
	return o.cache
}

// GetState returns the scene state for the session.
//
// With forceRefresh false, a cached entry is returned immediately with no
// network round trip; a live query happens only on a cache miss. With
// forceRefresh true, a live query always happens; if it fails (timeout, no
// connection, disconnect mid-flight) an existing cache entry is served
// instead, and only when neither exists does the call fail. Every
// successful live result overwrites the cache.
func (o *Orchestrator) GetState(ctx context.Context, sessionID string, forceRefresh bool) (json.RawMessage, error) {
	if !forceRefresh {
		if entry, ok := o.cache.Get(sessionID); ok {
			return entry.State, nil
		}
	}

	state, err := o.queryLive(ctx, sessionID, forceRefresh)
	if err != nil {
		if entry, ok := o.cache.Get(sessionID); ok {
			o.logger.Warn("live state query failed, serving cached snapshot",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			return entry.State, nil
		}
		return nil, err
	}

	o.cache.Put(sessionID, state)
	return state, nil
}

// queryLive performs one requestState round trip. It suspends until the
// response arrives, the viewer reports an error, the timeout fires, or the
// owning connection disconnects — whichever happens first settles the call.
func (o *Orchestrator) queryLive(ctx context.Context, sessionID string, forceRefresh bool) (json.RawMessage, error) {
	requestID := o.newID()
	ctx = logging.WithRequestID(ctx, requestID)

	ch := o.pending.Add(requestID, sessionID, o.timeout)

	if !o.router.RouteToSession(sessionID, protocol.NewRequestState(requestID, forceRefresh)) {
		o.pending.Cancel(requestID)
		return nil, scene.NewErrorf(scene.ErrCodeNoConnection,
			"no viewer connection for session %q", sessionID)
	}

	o.logger.DebugContext(ctx, "state query issued")

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.State, nil
	case <-ctx.Done():
		o.pending.Cancel(requestID)
		return nil, ctx.Err()
	}
}
