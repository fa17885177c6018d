package scene

import (
	"encoding/json"
	"regexp"
)

// Command type strings. These are the wire contract with the viewer:
// each command is serialized as a flat JSON object with a "type" field
// plus the type-specific fields.
const (
	CmdChangeColor           = "changeColor"
	CmdChangeSize            = "changeSize"
	CmdScaleModel            = "scaleModel"
	CmdRotateModel           = "rotateModel"
	CmdChangeBackgroundColor = "changeBackgroundColor"
	CmdSetKeyLightIntensity  = "setKeyLightIntensity"
	CmdSetKeyLightColor      = "setKeyLightColor"
	CmdSetFillLightIntensity = "setFillLightIntensity"
	CmdSetFillLightColor     = "setFillLightColor"
	CmdSwingKeyLightUp       = "swingKeyLightUp"
	CmdSwingKeyLightDown     = "swingKeyLightDown"
	CmdWalkFillLightIn       = "walkFillLightIn"
	CmdWalkFillLightOut      = "walkFillLightOut"
	CmdResetScene            = "resetScene"
)

// Command is a one-way, fire-and-forget instruction to the viewer.
// No acknowledgment is expected for state-mutating commands.
type Command struct {
	Type   string
	Params map[string]any
}

// MarshalJSON flattens the params alongside the type discriminator,
// e.g. {"type":"changeColor","color":"#ff0000"}.
func (c Command) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Params)+1)
	for k, v := range c.Params {
		m[k] = v
	}
	m["type"] = c.Type
	return json.Marshal(m)
}

func ChangeColor(color string) Command {
	return Command{Type: CmdChangeColor, Params: map[string]any{"color": color}}
}

func ChangeSize(size float64) Command {
	return Command{Type: CmdChangeSize, Params: map[string]any{"size": size}}
}

func ScaleModel(x, y, z float64) Command {
	return Command{Type: CmdScaleModel, Params: map[string]any{"x": x, "y": y, "z": z}}
}

func RotateModel(x, y, z float64) Command {
	return Command{Type: CmdRotateModel, Params: map[string]any{"x": x, "y": y, "z": z}}
}

func ChangeBackgroundColor(color string) Command {
	return Command{Type: CmdChangeBackgroundColor, Params: map[string]any{"color": color}}
}

func SetKeyLightIntensity(intensity float64) Command {
	return Command{Type: CmdSetKeyLightIntensity, Params: map[string]any{"intensity": intensity}}
}

func SetKeyLightColor(color string) Command {
	return Command{Type: CmdSetKeyLightColor, Params: map[string]any{"color": color}}
}

func SetFillLightIntensity(intensity float64) Command {
	return Command{Type: CmdSetFillLightIntensity, Params: map[string]any{"intensity": intensity}}
}

func SetFillLightColor(color string) Command {
	return Command{Type: CmdSetFillLightColor, Params: map[string]any{"color": color}}
}

func SwingKeyLight(up bool) Command {
	if up {
		return Command{Type: CmdSwingKeyLightUp}
	}
	return Command{Type: CmdSwingKeyLightDown}
}

func WalkFillLight(in bool) Command {
	if in {
		return Command{Type: CmdWalkFillLightIn}
	}
	return Command{Type: CmdWalkFillLightOut}
}

func ResetScene() Command {
	return Command{Type: CmdResetScene}
}

var (
	hexColorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	cssNameRe  = regexp.MustCompile(`^[a-zA-Z]+$`)
)

// ValidColor accepts 3- or 6-digit hex colors and bare CSS color names.
// The viewer's renderer is the final authority on named colors; this only
// rejects values that cannot possibly be a color.
func ValidColor(s string) bool {
	return hexColorRe.MatchString(s) || cssNameRe.MatchString(s)
}
