package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/scenelink/scenelink/internal/sessionctx"
	"github.com/scenelink/scenelink/pkg/scene"
)

// --- Tool definitions ---

func changeColorTool() mcp.Tool {
	return mcp.NewTool("scene.change_color",
		mcp.WithDescription("Change the color of the 3D model"),
		mcp.WithString("color", mcp.Required(), mcp.Description("Hex color like #ff0000 or a CSS color name")),
	)
}

func changeSizeTool() mcp.Tool {
	return mcp.NewTool("scene.change_size",
		mcp.WithDescription("Set a uniform size factor for the 3D model"),
		mcp.WithNumber("size", mcp.Required(), mcp.Description("Positive size factor, 1.0 is the original size")),
	)
}

func scaleModelTool() mcp.Tool {
	return mcp.NewTool("scene.scale_model",
		mcp.WithDescription("Scale the 3D model independently per axis"),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("Positive scale factor for the x axis")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Positive scale factor for the y axis")),
		mcp.WithNumber("z", mcp.Required(), mcp.Description("Positive scale factor for the z axis")),
	)
}

func rotateModelTool() mcp.Tool {
	return mcp.NewTool("scene.rotate_model",
		mcp.WithDescription("Rotate the 3D model by the given deltas in degrees"),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("Rotation delta around the x axis in degrees")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Rotation delta around the y axis in degrees")),
		mcp.WithNumber("z", mcp.Required(), mcp.Description("Rotation delta around the z axis in degrees")),
	)
}

func changeBackgroundTool() mcp.Tool {
	return mcp.NewTool("scene.change_background",
		mcp.WithDescription("Change the scene background color"),
		mcp.WithString("color", mcp.Required(), mcp.Description("Hex color like #202020 or a CSS color name")),
	)
}

func keyLightIntensityTool() mcp.Tool {
	return mcp.NewTool("scene.set_key_light_intensity",
		mcp.WithDescription("Set the key light intensity"),
		mcp.WithNumber("intensity", mcp.Required(), mcp.Description("Light intensity, 0 or greater")),
	)
}

func keyLightColorTool() mcp.Tool {
	return mcp.NewTool("scene.set_key_light_color",
		mcp.WithDescription("Set the key light color"),
		mcp.WithString("color", mcp.Required(), mcp.Description("Hex color like #ffffff or a CSS color name")),
	)
}

func fillLightIntensityTool() mcp.Tool {
	return mcp.NewTool("scene.set_fill_light_intensity",
		mcp.WithDescription("Set the fill light intensity"),
		mcp.WithNumber("intensity", mcp.Required(), mcp.Description("Light intensity, 0 or greater")),
	)
}

func fillLightColorTool() mcp.Tool {
	return mcp.NewTool("scene.set_fill_light_color",
		mcp.WithDescription("Set the fill light color"),
		mcp.WithString("color", mcp.Required(), mcp.Description("Hex color like #88aaff or a CSS color name")),
	)
}

func swingKeyLightTool() mcp.Tool {
	return mcp.NewTool("scene.swing_key_light",
		mcp.WithDescription("Swing the key light up or down one step"),
		mcp.WithString("direction", mcp.Required(),
			mcp.Enum("up", "down"),
			mcp.Description("Swing direction"),
		),
	)
}

func walkFillLightTool() mcp.Tool {
	return mcp.NewTool("scene.walk_fill_light",
		mcp.WithDescription("Walk the fill light in toward or out from the model one step"),
		mcp.WithString("direction", mcp.Required(),
			mcp.Enum("in", "out"),
			mcp.Description("Walk direction"),
		),
	)
}

func resetSceneTool() mcp.Tool {
	return mcp.NewTool("scene.reset",
		mcp.WithDescription("Reset the scene to its initial state"),
	)
}

func getStateTool() mcp.Tool {
	return mcp.NewTool("scene.get_state",
		mcp.WithDescription("Get the current scene state as JSON. Served from the server-side cache when available; set force_refresh to query the viewer live"),
		mcp.WithBoolean("force_refresh", mcp.Description("Bypass the cache and query the viewer (default: false)")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("scene.query",
		mcp.WithDescription("Evaluate an expression against the scene state. jq expressions address the state directly (e.g. .model.color); expr and cel expressions use the `state` variable (e.g. state.model.scale.x > 2.0)"),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Expression to evaluate")),
		mcp.WithString("engine",
			mcp.Enum("jq", "expr", "cel"),
			mcp.Description("Expression engine (default: jq)"),
		),
		mcp.WithBoolean("force_refresh", mcp.Description("Query the viewer live instead of the cache (default: false)")),
	)
}

func connectionURLTool() mcp.Tool {
	return mcp.NewTool("scene.connection_url",
		mcp.WithDescription("Get the websocket URL a browser viewer opens to join this session"),
	)
}

// --- Command handlers ---

func (s *SceneServer) handleChangeColor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	color, err := req.RequireString("color")
	if err != nil {
		return mcp.NewToolResultError("color is required"), nil
	}
	if !scene.ValidColor(color) {
		return mcp.NewToolResultError(fmt.Sprintf("%q is not a hex color or CSS color name", color)), nil
	}
	return s.emit(ctx, scene.ChangeColor(color), fmt.Sprintf("model color set to %s", color)), nil
}

func (s *SceneServer) handleChangeSize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	size, err := req.RequireFloat("size")
	if err != nil {
		return mcp.NewToolResultError("size is required"), nil
	}
	if size <= 0 {
		return mcp.NewToolResultError("size must be positive"), nil
	}
	return s.emit(ctx, scene.ChangeSize(size), fmt.Sprintf("model size set to %g", size)), nil
}

func (s *SceneServer) handleScaleModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	x, errX := req.RequireFloat("x")
	y, errY := req.RequireFloat("y")
	z, errZ := req.RequireFloat("z")
	if errX != nil || errY != nil || errZ != nil {
		return mcp.NewToolResultError("x, y and z are required"), nil
	}
	if x <= 0 || y <= 0 || z <= 0 {
		return mcp.NewToolResultError("scale factors must be positive"), nil
	}
	return s.emit(ctx, scene.ScaleModel(x, y, z), fmt.Sprintf("model scaled to (%g, %g, %g)", x, y, z)), nil
}

func (s *SceneServer) handleRotateModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	x, errX := req.RequireFloat("x")
	y, errY := req.RequireFloat("y")
	z, errZ := req.RequireFloat("z")
	if errX != nil || errY != nil || errZ != nil {
		return mcp.NewToolResultError("x, y and z are required"), nil
	}
	return s.emit(ctx, scene.RotateModel(x, y, z), fmt.Sprintf("model rotated by (%g°, %g°, %g°)", x, y, z)), nil
}

func (s *SceneServer) handleChangeBackground(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	color, err := req.RequireString("color")
	if err != nil {
		return mcp.NewToolResultError("color is required"), nil
	}
	if !scene.ValidColor(color) {
		return mcp.NewToolResultError(fmt.Sprintf("%q is not a hex color or CSS color name", color)), nil
	}
	return s.emit(ctx, scene.ChangeBackgroundColor(color), fmt.Sprintf("background color set to %s", color)), nil
}

func (s *SceneServer) handleKeyLightIntensity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	intensity, err := req.RequireFloat("intensity")
	if err != nil {
		return mcp.NewToolResultError("intensity is required"), nil
	}
	if intensity < 0 {
		return mcp.NewToolResultError("intensity must be 0 or greater"), nil
	}
	return s.emit(ctx, scene.SetKeyLightIntensity(intensity), fmt.Sprintf("key light intensity set to %g", intensity)), nil
}

func (s *SceneServer) handleKeyLightColor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	color, err := req.RequireString("color")
	if err != nil {
		return mcp.NewToolResultError("color is required"), nil
	}
	if !scene.ValidColor(color) {
		return mcp.NewToolResultError(fmt.Sprintf("%q is not a hex color or CSS color name", color)), nil
	}
	return s.emit(ctx, scene.SetKeyLightColor(color), fmt.Sprintf("key light color set to %s", color)), nil
}

func (s *SceneServer) handleFillLightIntensity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	intensity, err := req.RequireFloat("intensity")
	if err != nil {
		return mcp.NewToolResultError("intensity is required"), nil
	}
	if intensity < 0 {
		return mcp.NewToolResultError("intensity must be 0 or greater"), nil
	}
	return s.emit(ctx, scene.SetFillLightIntensity(intensity), fmt.Sprintf("fill light intensity set to %g", intensity)), nil
}

func (s *SceneServer) handleFillLightColor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	color, err := req.RequireString("color")
	if err != nil {
		return mcp.NewToolResultError("color is required"), nil
	}
	if !scene.ValidColor(color) {
		return mcp.NewToolResultError(fmt.Sprintf("%q is not a hex color or CSS color name", color)), nil
	}
	return s.emit(ctx, scene.SetFillLightColor(color), fmt.Sprintf("fill light color set to %s", color)), nil
}

func (s *SceneServer) handleSwingKeyLight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	direction, err := req.RequireString("direction")
	if err != nil || (direction != "up" && direction != "down") {
		return mcp.NewToolResultError("direction must be \"up\" or \"down\""), nil
	}
	return s.emit(ctx, scene.SwingKeyLight(direction == "up"), fmt.Sprintf("key light swung %s", direction)), nil
}

func (s *SceneServer) handleWalkFillLight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	direction, err := req.RequireString("direction")
	if err != nil || (direction != "in" && direction != "out") {
		return mcp.NewToolResultError("direction must be \"in\" or \"out\""), nil
	}
	return s.emit(ctx, scene.WalkFillLight(direction == "in"), fmt.Sprintf("fill light walked %s", direction)), nil
}

func (s *SceneServer) handleResetScene(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.emit(ctx, scene.ResetScene(), "scene reset to initial state"), nil
}

// --- Query handlers ---

func (s *SceneServer) handleGetState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := req.GetBool("force_refresh", false)

	sid := s.sessionFrom(ctx)
	if sid == "" {
		return mcp.NewToolResultError("no active session; connect a viewer first"), nil
	}

	state, err := s.states.GetState(ctx, sid, force)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(state)), nil
}

func (s *SceneServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	engineName := req.GetString("engine", "jq")
	force := req.GetBool("force_refresh", false)

	engine, ok := s.engines.Get(engineName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown engine %q (want one of %v)", engineName, s.engines.Names())), nil
	}

	sid := s.sessionFrom(ctx)
	if sid == "" {
		return mcp.NewToolResultError("no active session; connect a viewer first"), nil
	}

	state, err := s.states.GetState(ctx, sid, force)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var doc map[string]any
	if err := json.Unmarshal(state, &doc); err != nil {
		return mcp.NewToolResultError("scene state is not a JSON object"), nil
	}

	// jq evaluates the state document directly; expr and cel bind it to
	// the `state` variable.
	data := doc
	if engine.Name() != "jq" {
		data = map[string]any{"state": doc}
	}

	out, err := engine.Evaluate(ctx, expression, data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal query result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func (s *SceneServer) handleConnectionURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid := s.sessionFrom(ctx)
	if sid == "" {
		return mcp.NewToolResultError("no session identity available for a connection URL"), nil
	}
	return mcp.NewToolResultText(s.cfg.ConnectionURL(sid)), nil
}

// --- Helpers ---

// sessionFrom resolves the ambient session of the current tool call:
// explicit context value, then the MCP client session, then the configured
// default. Empty means fully degraded (broadcast-only).
func (s *SceneServer) sessionFrom(ctx context.Context) string {
	if sid := sessionctx.FromContext(ctx); sid != "" {
		return sid
	}
	if cs := server.ClientSessionFromContext(ctx); cs != nil && cs.SessionID() != "" {
		return cs.SessionID()
	}
	return s.cfg.DefaultSession
}

// emit routes one fire-and-forget command for the ambient session. An
// undeliverable command is a soft success: the tool reports that nothing
// is listening instead of failing. Without any session identity it falls
// back to broadcast (degraded mode).
func (s *SceneServer) emit(ctx context.Context, cmd scene.Command, applied string) *mcp.CallToolResult {
	sid := s.sessionFrom(ctx)
	if sid == "" {
		n := s.router.Broadcast(cmd)
		if n == 0 {
			return mcp.NewToolResultText(applied + " (no viewer connected; nothing happened yet)")
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s (no session identity; broadcast to %d viewers)", applied, n))
	}

	ctx = sessionctx.WithSession(ctx, sid)
	if !s.router.RouteToSession(sid, cmd) {
		s.logger.InfoContext(ctx, "command accepted with no live viewer", slog.String("command", cmd.Type))
		return mcp.NewToolResultText(applied + " (no live viewer for this session; open the connection URL to see the scene)")
	}
	s.logger.DebugContext(ctx, "command routed", slog.String("command", cmd.Type))
	return mcp.NewToolResultText(applied)
}
