package scene

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshal(t *testing.T, cmd Command) string {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return string(data)
}

func TestCommand_MarshalFlattensParams(t *testing.T) {
	assert.JSONEq(t, `{"type":"changeColor","color":"#ff0000"}`,
		marshal(t, ChangeColor("#ff0000")))

	assert.JSONEq(t, `{"type":"scaleModel","x":1,"y":2,"z":3}`,
		marshal(t, ScaleModel(1, 2, 3)))

	assert.JSONEq(t, `{"type":"resetScene"}`, marshal(t, ResetScene()))
}

func TestCommand_Constructors(t *testing.T) {
	cases := []struct {
		cmd  Command
		want string
	}{
		{ChangeSize(1.5), CmdChangeSize},
		{RotateModel(0, 90, 0), CmdRotateModel},
		{ChangeBackgroundColor("#202020"), CmdChangeBackgroundColor},
		{SetKeyLightIntensity(1.2), CmdSetKeyLightIntensity},
		{SetKeyLightColor("white"), CmdSetKeyLightColor},
		{SetFillLightIntensity(0.4), CmdSetFillLightIntensity},
		{SetFillLightColor("#88aaff"), CmdSetFillLightColor},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.cmd.Type)
	}
}

func TestSwingKeyLight_Direction(t *testing.T) {
	assert.Equal(t, CmdSwingKeyLightUp, SwingKeyLight(true).Type)
	assert.Equal(t, CmdSwingKeyLightDown, SwingKeyLight(false).Type)
}

func TestWalkFillLight_Direction(t *testing.T) {
	assert.Equal(t, CmdWalkFillLightIn, WalkFillLight(true).Type)
	assert.Equal(t, CmdWalkFillLightOut, WalkFillLight(false).Type)
}

func TestValidColor(t *testing.T) {
	valid := []string{"#ff0000", "#FFF", "#a1B2c3", "red", "cornflowerblue", "White"}
	for _, s := range valid {
		assert.True(t, ValidColor(s), "expected %q to be a valid color", s)
	}

	invalid := []string{"", "#ff00", "#gggggg", "ff0000", "rgb(1,2,3)", "red;drop", "dark gray"}
	for _, s := range invalid {
		assert.False(t, ValidColor(s), "expected %q to be rejected", s)
	}
}
