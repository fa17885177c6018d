package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenelink/scenelink/internal/bridge"
	"github.com/scenelink/scenelink/internal/config"
	"github.com/scenelink/scenelink/internal/query"
	"github.com/scenelink/scenelink/internal/sessionctx"
)

// --- Fakes ---

type fakeConn struct {
	mu       sync.Mutex
	sent     []any
	failSend bool
}

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return assert.AnError
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) sentPayloads() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

type stateCall struct {
	sessionID string
	force     bool
}

type fakeStates struct {
	mu    sync.Mutex
	state json.RawMessage
	err   error
	calls []stateCall
}

func (f *fakeStates) GetState(_ context.Context, sessionID string, forceRefresh bool) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, stateCall{sessionID: sessionID, force: forceRefresh})
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeStates) lastCall(t *testing.T) stateCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

// --- Fixture ---

type fixture struct {
	server   *SceneServer
	registry *bridge.Registry
	states   *fakeStates
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := bridge.NewRegistry(logger)
	router := bridge.NewRouter(registry, logger)
	engines, err := query.NewEngines()
	require.NoError(t, err)

	states := &fakeStates{state: json.RawMessage(`{"model":{"color":"#ff0000","scale":{"x":2.5,"y":1,"z":1}},"background":"#202020"}`)}
	cfg := &config.Config{
		ViewerAddr:     ":8421",
		Transport:      config.TransportHTTP,
		QueryTimeout:   time.Second,
		DefaultSession: "local",
	}

	s := NewSceneServer(SceneServerDeps{
		Router:  router,
		States:  states,
		Engines: engines,
		Config:  cfg,
		Logger:  logger,
	})

	return &fixture{server: s, registry: registry, states: states, cfg: cfg}
}

func sessionContext(sessionID string) context.Context {
	return sessionctx.WithSession(context.Background(), sessionID)
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

// --- Tests ---

func TestNewSceneServer(t *testing.T) {
	f := newFixture(t)
	require.NotNil(t, f.server)
	assert.NotNil(t, f.server.MCPServer())
}

func TestNewSceneServer_NilDepsGetDefaults(t *testing.T) {
	s := NewSceneServer(SceneServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.cfg)
}

func TestToolRegistration(t *testing.T) {
	f := newFixture(t)

	tools := f.server.tools()
	require.Len(t, tools, 15)

	names := make(map[string]bool, len(tools))
	for _, st := range tools {
		names[st.Tool.Name] = true
		assert.NotNil(t, st.Handler, "tool %s has no handler", st.Tool.Name)
	}

	for _, want := range []string{
		"scene.change_color",
		"scene.change_size",
		"scene.scale_model",
		"scene.rotate_model",
		"scene.change_background",
		"scene.set_key_light_intensity",
		"scene.set_key_light_color",
		"scene.set_fill_light_intensity",
		"scene.set_fill_light_color",
		"scene.swing_key_light",
		"scene.walk_fill_light",
		"scene.reset",
		"scene.get_state",
		"scene.query",
		"scene.connection_url",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestSessionFrom_Precedence(t *testing.T) {
	f := newFixture(t)

	// Explicit context value wins.
	assert.Equal(t, "s1", f.server.sessionFrom(sessionContext("s1")))

	// With nothing on the context the configured default applies.
	assert.Equal(t, "local", f.server.sessionFrom(context.Background()))

	// No default configured means fully degraded.
	f.cfg.DefaultSession = ""
	assert.Equal(t, "", f.server.sessionFrom(context.Background()))
}
