// Package protocol defines the JSON wire contract between the server and
// the browser viewer. Field names are binding; the viewer implements the
// other side of this exchange.
package protocol

import "encoding/json"

// Message type strings for the viewer duplex channel.
const (
	// browser → server
	TypeRegisterSession = "registerSession"
	TypeStateResponse   = "stateResponse"
	TypeStateError      = "stateError"
	TypeStateUpdate     = "stateUpdate"

	// server → browser
	TypeSessionRegistered = "sessionRegistered"
	TypeError             = "error"
	TypeRequestState      = "requestState"
)

// RequestState asks the viewer for a scene state snapshot. The viewer
// answers with a stateResponse or stateError carrying the same request id.
type RequestState struct {
	Type         string `json:"type"`
	RequestID    string `json:"requestId"`
	ForceRefresh bool   `json:"forceRefresh"`
}

// NewRequestState builds a requestState message.
func NewRequestState(requestID string, forceRefresh bool) RequestState {
	return RequestState{Type: TypeRequestState, RequestID: requestID, ForceRefresh: forceRefresh}
}

// SessionRegistered acknowledges a successful registerSession.
type SessionRegistered struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// NewSessionRegistered builds a sessionRegistered message.
func NewSessionRegistered(sessionID string) SessionRegistered {
	return SessionRegistered{Type: TypeSessionRegistered, SessionID: sessionID}
}

// ErrorMessage reports a protocol-level problem to the viewer.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorMessage builds an error message.
func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// Inbound is the envelope for all browser → server messages. Which fields
// are required depends on Type; see the embedded schema in validate.go.
// State stays raw: the scene payload is opaque to the server and is cached
// and served without transformation.
type Inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}
