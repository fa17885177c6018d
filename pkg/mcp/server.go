// Package mcp exposes the scene tools to MCP clients and resolves the
// ambient session identity of each tool call.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/scenelink/scenelink/internal/bridge"
	"github.com/scenelink/scenelink/internal/config"
	"github.com/scenelink/scenelink/internal/query"
)

// StateGetter answers state queries. Satisfied by bridge.Orchestrator.
type StateGetter interface {
	GetState(ctx context.Context, sessionID string, forceRefresh bool) (json.RawMessage, error)
}

// SceneServerDeps holds the dependencies for creating a SceneServer.
type SceneServerDeps struct {
	Router  *bridge.Router
	States  StateGetter
	Engines *query.Engines
	Config  *config.Config
	Logger  *slog.Logger
}

// SceneServer wraps an MCP server with the scene tool handlers.
type SceneServer struct {
	router    *bridge.Router
	states    StateGetter
	engines   *query.Engines
	cfg       *config.Config
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewSceneServer creates a SceneServer with all tools registered.
func NewSceneServer(deps SceneServerDeps) *SceneServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	s := &SceneServer{
		router:  deps.Router,
		states:  deps.States,
		engines: deps.Engines,
		cfg:     cfg,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"scenelink",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Scenelink controls a live 3D scene rendered in a browser viewer. Use scene.connection_url to get the viewer link, the scene.* command tools to mutate the scene (fire-and-forget), scene.get_state to read the current scene state, and scene.query to evaluate a jq/expr/cel expression against it."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *SceneServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for custom transports and tests.
func (s *SceneServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *SceneServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: changeColorTool(), Handler: s.handleChangeColor},
		{Tool: changeSizeTool(), Handler: s.handleChangeSize},
		{Tool: scaleModelTool(), Handler: s.handleScaleModel},
		{Tool: rotateModelTool(), Handler: s.handleRotateModel},
		{Tool: changeBackgroundTool(), Handler: s.handleChangeBackground},
		{Tool: keyLightIntensityTool(), Handler: s.handleKeyLightIntensity},
		{Tool: keyLightColorTool(), Handler: s.handleKeyLightColor},
		{Tool: fillLightIntensityTool(), Handler: s.handleFillLightIntensity},
		{Tool: fillLightColorTool(), Handler: s.handleFillLightColor},
		{Tool: swingKeyLightTool(), Handler: s.handleSwingKeyLight},
		{Tool: walkFillLightTool(), Handler: s.handleWalkFillLight},
		{Tool: resetSceneTool(), Handler: s.handleResetScene},
		{Tool: getStateTool(), Handler: s.handleGetState},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: connectionURLTool(), Handler: s.handleConnectionURL},
	}
}
