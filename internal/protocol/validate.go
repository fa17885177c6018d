package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/scenelink/scenelink/pkg/scene"
)

// inboundSchemaJSON is the JSON Schema for browser → server messages.
// Embedded as a constant to avoid filesystem dependencies.
const inboundSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://scenelink.dev/schemas/inbound.json",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "type": "string",
      "enum": ["registerSession", "stateResponse", "stateError", "stateUpdate"]
    },
    "sessionId": { "type": "string", "minLength": 1 },
    "requestId": { "type": "string", "minLength": 1 },
    "state": {},
    "error": { "type": "string" },
    "timestamp": { "type": "number" }
  },
  "allOf": [
    {
      "if": { "properties": { "type": { "const": "registerSession" } }, "required": ["type"] },
      "then": { "required": ["sessionId"] }
    },
    {
      "if": { "properties": { "type": { "const": "stateResponse" } }, "required": ["type"] },
      "then": { "required": ["requestId", "state"] }
    },
    {
      "if": { "properties": { "type": { "const": "stateError" } }, "required": ["type"] },
      "then": { "required": ["requestId", "error"] }
    },
    {
      "if": { "properties": { "type": { "const": "stateUpdate" } }, "required": ["type"] },
      "then": { "required": ["state"] }
    }
  ]
}`

// Validator checks inbound viewer messages against the wire schema.
// Safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the inbound message schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(inboundSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal inbound schema: %w", err)
	}
	if err := c.AddResource("https://scenelink.dev/schemas/inbound.json", doc); err != nil {
		return nil, fmt.Errorf("add inbound schema resource: %w", err)
	}

	compiled, err := c.Compile("https://scenelink.dev/schemas/inbound.json")
	if err != nil {
		return nil, fmt.Errorf("compile inbound schema: %w", err)
	}

	return &Validator{schema: compiled}, nil
}

// ParseInbound validates raw bytes against the wire schema and decodes them.
// Failures return a MALFORMED_MESSAGE error; the caller logs and drops the
// message — a bad frame never tears down the connection.
func (v *Validator) ParseInbound(raw []byte) (*Inbound, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, scene.NewError(scene.ErrCodeMalformed, "message is not valid JSON").WithCause(err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return nil, toSceneError(err)
	}

	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, scene.NewError(scene.ErrCodeMalformed, "message does not match envelope").WithCause(err)
	}
	return &msg, nil
}

// toSceneError converts a jsonschema.ValidationError into a structured
// error with the leaf violations collected for logging.
func toSceneError(err error) *scene.Error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return scene.NewError(scene.ErrCodeMalformed, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return scene.NewError(scene.ErrCodeMalformed, verr.Error())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("message failed validation with %d errors", len(violations))
	}
	return scene.NewError(scene.ErrCodeMalformed, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
