// Package ws hosts the viewer-facing WebSocket endpoint: connection
// upgrade, session registration, inbound message dispatch, and disconnect
// cleanup.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scenelink/scenelink/pkg/scene"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
	sendBuffer     = 64
)

// Conn wraps one viewer websocket. Outbound messages are marshaled and
// queued on a buffered channel drained by a single write pump, so Send is
// safe from any goroutine. Implements bridge.Conn.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
}

func newConn(wsConn *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		ws:     wsConn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// SessionID returns the session this connection is registered under, or ""
// before registration.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conn) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Send marshals v and queues it for delivery. Fails fast when the
// connection is closed or the viewer is too slow to drain its buffer;
// delivery is best-effort either way.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return scene.NewError(scene.ErrCodeValidation, "marshal outbound message").WithCause(err)
	}

	select {
	case <-c.closed:
		return scene.NewError(scene.ErrCodeDisconnected, "viewer connection closed")
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return scene.NewError(scene.ErrCodeDisconnected, "viewer connection closed")
	default:
		return scene.NewError(scene.ErrCodeDisconnected, "viewer send buffer full")
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.ws.Close()
}

// writePump drains the send queue and keeps the connection alive with
// pings. Runs in its own goroutine for the lifetime of the connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
