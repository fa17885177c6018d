package ws

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scenelink/scenelink/internal/bridge"
	"github.com/scenelink/scenelink/internal/protocol"
	"github.com/scenelink/scenelink/pkg/scene"
)

// HandlerDeps holds the dependencies for the viewer endpoint.
type HandlerDeps struct {
	Registry       *bridge.Registry
	Pending        *bridge.PendingTable
	Cache          *bridge.StateCache
	Validator      *protocol.Validator
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Handler upgrades viewer connections and bridges their messages into the
// registry, pending-query table, and state cache.
type Handler struct {
	registry  *bridge.Registry
	pending   *bridge.PendingTable
	cache     *bridge.StateCache
	validator *protocol.Validator
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewHandler creates the viewer websocket handler.
func NewHandler(deps HandlerDeps) *Handler {
	h := &Handler{
		registry:  deps.Registry,
		pending:   deps.Pending,
		cache:     deps.Cache,
		validator: deps.Validator,
		logger:    deps.Logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), deps.AllowedOrigins)
		},
	}
	return h
}

// originAllowed implements the origin policy: no Origin header means a
// non-browser client (tooling, tests) and is allowed; with no allowlist
// configured only localhost origins pass; "*" allows everything; otherwise
// the origin must match an allowlist entry exactly.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}

	if len(allowed) == 0 {
		return strings.Contains(origin, "://localhost") ||
			strings.Contains(origin, "://127.0.0.1")
	}

	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /ws?session=<id>. The query parameter pre-registers
// the connection so commands can reach the viewer before its first message;
// the viewer's registerSession message remains authoritative.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := newConn(wsConn, h.logger)
	go conn.writePump()

	if sid := r.URL.Query().Get("session"); sid != "" {
		h.register(conn, sid)
	}

	h.readLoop(conn)
}

// readLoop pumps inbound messages until the connection dies, then runs
// disconnect cleanup.
func (h *Handler) readLoop(conn *Conn) {
	defer h.dropConn(conn)

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("viewer read error", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := h.validator.ParseInbound(data)
		if err != nil {
			// Malformed frames are logged and dropped; the connection stays up.
			h.logger.Warn("dropping malformed viewer message", slog.String("error", err.Error()))
			conn.Send(protocol.NewErrorMessage(err.Error()))
			continue
		}

		h.dispatch(conn, msg)
	}
}

// dispatch routes one validated inbound message.
func (h *Handler) dispatch(conn *Conn, msg *protocol.Inbound) {
	switch msg.Type {
	case protocol.TypeRegisterSession:
		h.register(conn, msg.SessionID)
		conn.Send(protocol.NewSessionRegistered(msg.SessionID))

	case protocol.TypeStateResponse:
		if !h.pending.Resolve(msg.RequestID, msg.State) {
			h.logger.Debug("discarding stateResponse for unknown request",
				slog.String("request_id", msg.RequestID))
		}

	case protocol.TypeStateError:
		err := scene.NewError(scene.ErrCodeBrowserError, msg.Error)
		if !h.pending.Reject(msg.RequestID, err) {
			h.logger.Debug("discarding stateError for unknown request",
				slog.String("request_id", msg.RequestID))
		}

	case protocol.TypeStateUpdate:
		sid := conn.SessionID()
		if sid == "" {
			h.logger.Warn("stateUpdate from unregistered viewer, dropping")
			return
		}
		h.cache.Put(sid, msg.State)
	}
}

// register binds the connection to a session, releasing any binding it
// held under a previous id (query-param id replaced by registerSession).
func (h *Handler) register(conn *Conn, sessionID string) {
	if prev := conn.SessionID(); prev != "" && prev != sessionID {
		if h.registry.Unregister(prev, conn) {
			h.pending.RejectSession(prev, scene.NewError(scene.ErrCodeDisconnected, "viewer re-registered under a new session"))
			h.cache.Delete(prev)
		}
	}
	conn.setSessionID(sessionID)
	h.registry.Register(sessionID, conn)
}

// dropConn runs disconnect cleanup. Pending queries are rejected and the
// cache entry deleted only when this connection is still the registered
// one — a superseded connection closing must not disturb its replacement.
func (h *Handler) dropConn(conn *Conn) {
	conn.Close()

	sid := conn.SessionID()
	if sid == "" {
		return
	}
	if !h.registry.Unregister(sid, conn) {
		return
	}

	rejected := h.pending.RejectSession(sid, scene.NewError(scene.ErrCodeDisconnected, "viewer disconnected"))
	h.cache.Delete(sid)
	h.logger.Info("viewer disconnected",
		slog.String("session_id", sid),
		slog.Int("rejected_queries", rejected))
}
