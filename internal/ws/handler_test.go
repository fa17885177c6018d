package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenelink/scenelink/internal/bridge"
	"github.com/scenelink/scenelink/internal/protocol"
	"github.com/scenelink/scenelink/pkg/scene"
)

type testEnv struct {
	registry *bridge.Registry
	pending  *bridge.PendingTable
	cache    *bridge.StateCache
	router   *bridge.Router
	srv      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := bridge.NewRegistry(logger)
	pending := bridge.NewPendingTable(logger)
	cache := bridge.NewStateCache()
	validator, err := protocol.NewValidator()
	require.NoError(t, err)

	h := NewHandler(HandlerDeps{
		Registry:  registry,
		Pending:   pending,
		Cache:     cache,
		Validator: validator,
		Logger:    logger,
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testEnv{
		registry: registry,
		pending:  pending,
		cache:    cache,
		router:   bridge.NewRouter(registry, logger),
		srv:      srv,
	}
}

// dial opens a viewer websocket, optionally pre-registering via the query
// parameter.
func (e *testEnv) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if sessionID != "" {
		u += "?session=" + sessionID
	}
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readMsg(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func writeMsg(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.WriteJSON(v))
}

func TestHandler_QueryParamPreRegisters(t *testing.T) {
	env := newTestEnv(t)
	env.dial(t, "s1")

	require.Eventually(t, func() bool {
		_, ok := env.registry.Lookup("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RegisterSessionAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "")

	writeMsg(t, c, map[string]any{"type": "registerSession", "sessionId": "s1"})

	ack := readMsg(t, c)
	assert.Equal(t, protocol.TypeSessionRegistered, ack["type"])
	assert.Equal(t, "s1", ack["sessionId"])

	_, ok := env.registry.Lookup("s1")
	assert.True(t, ok)
}

func TestHandler_RegisterSessionRebinds(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "provisional")

	require.Eventually(t, func() bool {
		_, ok := env.registry.Lookup("provisional")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	writeMsg(t, c, map[string]any{"type": "registerSession", "sessionId": "actual"})
	readMsg(t, c) // ack

	_, ok := env.registry.Lookup("actual")
	assert.True(t, ok)
	_, ok = env.registry.Lookup("provisional")
	assert.False(t, ok, "provisional binding must be released")
}

func TestHandler_StateUpdatePopulatesCache(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "s1")

	writeMsg(t, c, map[string]any{
		"type":  "stateUpdate",
		"state": map[string]any{"background": "#202020"},
	})

	require.Eventually(t, func() bool { return env.cache.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	entry, ok := env.cache.Get("s1")
	require.True(t, ok)
	assert.JSONEq(t, `{"background":"#202020"}`, string(entry.State))
}

func TestHandler_StateUpdateFromUnregisteredViewerDropped(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "")

	writeMsg(t, c, map[string]any{
		"type":  "stateUpdate",
		"state": map[string]any{"background": "#202020"},
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, env.cache.Len())
}

func TestHandler_MalformedMessageDoesNotKillConnection(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "")

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{oops`)))

	errMsg := readMsg(t, c)
	assert.Equal(t, protocol.TypeError, errMsg["type"])
	assert.NotEmpty(t, errMsg["message"])

	// The connection survives and normal traffic still works.
	writeMsg(t, c, map[string]any{"type": "registerSession", "sessionId": "s1"})
	ack := readMsg(t, c)
	assert.Equal(t, protocol.TypeSessionRegistered, ack["type"])
}

func TestHandler_StateQueryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "s1")

	require.Eventually(t, func() bool {
		_, ok := env.registry.Lookup("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	orch := bridge.NewOrchestrator(env.router, env.pending, env.cache, 2*time.Second, nil)

	type result struct {
		state string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := orch.GetState(context.Background(), "s1", true)
		done <- result{state: string(state), err: err}
	}()

	// Play the viewer side: answer the requestState with a snapshot.
	req := readMsg(t, c)
	require.Equal(t, protocol.TypeRequestState, req["type"])
	require.NotEmpty(t, req["requestId"])
	assert.Equal(t, true, req["forceRefresh"])

	writeMsg(t, c, map[string]any{
		"type":      "stateResponse",
		"requestId": req["requestId"],
		"state":     map[string]any{"model": map[string]any{"color": "#ff0000"}},
	})

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.JSONEq(t, `{"model":{"color":"#ff0000"}}`, res.state)
	case <-time.After(2 * time.Second):
		t.Fatal("state query never settled")
	}

	entry, ok := env.cache.Get("s1")
	require.True(t, ok)
	assert.JSONEq(t, `{"model":{"color":"#ff0000"}}`, string(entry.State))
}

func TestHandler_StateErrorRejectsQuery(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "s1")

	require.Eventually(t, func() bool {
		_, ok := env.registry.Lookup("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	orch := bridge.NewOrchestrator(env.router, env.pending, env.cache, 2*time.Second, nil)

	done := make(chan error, 1)
	go func() {
		_, err := orch.GetState(context.Background(), "s1", true)
		done <- err
	}()

	req := readMsg(t, c)
	writeMsg(t, c, map[string]any{
		"type":      "stateError",
		"requestId": req["requestId"],
		"error":     "renderer crashed",
	})

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, scene.IsCode(err, scene.ErrCodeBrowserError))
		assert.Contains(t, err.Error(), "renderer crashed")
	case <-time.After(2 * time.Second):
		t.Fatal("state query never settled")
	}
}

func TestHandler_DisconnectCleanup(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "s1")

	require.Eventually(t, func() bool {
		_, ok := env.registry.Lookup("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	env.cache.Put("s1", []byte(`{"stale":true}`))

	// An in-flight query must settle on disconnect, well before its timer.
	orch := bridge.NewOrchestrator(env.router, env.pending, env.cache, 10*time.Second, nil)
	done := make(chan error, 1)
	go func() {
		_, err := orch.GetState(context.Background(), "s1", true)
		done <- err
	}()

	require.Eventually(t, func() bool { return env.pending.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())

	select {
	case err := <-done:
		// Cache was deleted by the cleanup, so no stale fallback either.
		require.Error(t, err)
		assert.True(t, scene.IsCode(err, scene.ErrCodeDisconnected))
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight query did not settle on disconnect")
	}

	require.Eventually(t, func() bool {
		_, ok := env.registry.Lookup("s1")
		return !ok && env.cache.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_SupersededConnectionCannotEvictReplacement(t *testing.T) {
	env := newTestEnv(t)
	old := env.dial(t, "s1")

	require.Eventually(t, func() bool {
		_, ok := env.registry.Lookup("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// Second viewer takes over the session (last writer wins).
	env.dial(t, "s1")
	require.Eventually(t, func() bool { return env.registry.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	env.cache.Put("s1", []byte(`{"v":1}`))
	require.NoError(t, old.Close())

	// The replacement stays registered and its cache entry survives.
	time.Sleep(100 * time.Millisecond)
	_, ok := env.registry.Lookup("s1")
	assert.True(t, ok)
	_, ok = env.cache.Get("s1")
	assert.True(t, ok)
}

func TestHandler_DuplicateStateResponseDiscarded(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "s1")

	require.Eventually(t, func() bool {
		_, ok := env.registry.Lookup("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	orch := bridge.NewOrchestrator(env.router, env.pending, env.cache, 2*time.Second, nil)
	type result struct {
		state string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := orch.GetState(context.Background(), "s1", true)
		done <- result{state: string(state), err: err}
	}()

	req := readMsg(t, c)
	respond := func(v int) {
		writeMsg(t, c, map[string]any{
			"type":      "stateResponse",
			"requestId": req["requestId"],
			"state":     map[string]any{"v": v},
		})
	}
	respond(1)
	respond(2) // duplicate, must be discarded

	res := <-done
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"v":1}`, res.state)

	// The duplicate never overwrote anything.
	time.Sleep(100 * time.Millisecond)
	entry, ok := env.cache.Get("s1")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(entry.State))
}

func TestOriginAllowed(t *testing.T) {
	cases := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"no origin header", "", nil, true},
		{"localhost default", "http://localhost:3000", nil, true},
		{"loopback default", "http://127.0.0.1:3000", nil, true},
		{"remote rejected by default", "https://evil.example.com", nil, false},
		{"wildcard", "https://anything.example.com", []string{"*"}, true},
		{"exact match", "https://viewer.example.com", []string{"https://viewer.example.com"}, true},
		{"no match", "https://other.example.com", []string{"https://viewer.example.com"}, false},
		{"localhost not implied by allowlist", "http://localhost:3000", []string{"https://viewer.example.com"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, originAllowed(tc.origin, tc.allowed))
		})
	}
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator, err := protocol.NewValidator()
	require.NoError(t, err)

	h := NewHandler(HandlerDeps{
		Registry:       bridge.NewRegistry(logger),
		Pending:        bridge.NewPendingTable(logger),
		Cache:          bridge.NewStateCache(),
		Validator:      validator,
		AllowedOrigins: []string{"https://viewer.example.com"},
		Logger:         logger,
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
