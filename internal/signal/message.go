// Package signal implements the real-time signaling channel: a duplex,
// message-oriented WebSocket connection per participant with a join/role/
// heartbeat/leave state machine, plus forwarding of capture and batch
// messages between the two roles of a session.
package signal

import (
	"encoding/json"
	"fmt"
)

// Wire message types. Each type has exactly one payload shape; unknown or
// malformed messages are rejected back to the sender at the boundary.
const (
	TypeJoinSession  = "join:session"
	TypeLeaveSession = "leave:session"

	TypeSessionJoined = "session:joined"
	TypePairingError  = "pairing:error"

	TypeSessionStart   = "session:start"
	TypeSessionStarted = "session:started"
	TypeSessionStop    = "session:stop"
	TypeSessionStopped = "session:stopped"
	TypeSessionError   = "session:error"

	TypeCaptureRequest  = "capture:request"
	TypeCaptureResponse = "capture:response"
	TypeCaptureError    = "capture:error"

	TypeBatchRequest  = "batch:analyze:request"
	TypeBatchProgress = "batch:analyze:progress"
	TypeBatchResponse = "batch:analyze:response"
	TypeBatchError    = "batch:analyze:error"

	TypeChatMessage  = "chat:message"
	TypeChatResponse = "chat:response"
	TypeChatError    = "chat:error"

	TypeHeartbeat        = "heartbeat"
	TypeConnectionStatus = "connection:status"
)

// Roles a connection may join as.
const (
	RoleController = "controller"
	RoleViewer     = "viewer"
	RoleUnassigned = ""
)

// Envelope is the outer frame of every channel message. When Encrypted is
// set, Payload holds an EncryptedPayload instead of the type's plain shape.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Encrypted bool            `json:"encrypted,omitempty"`
}

// EncryptedPayload carries a crypto envelope string in place of a plain
// payload.
type EncryptedPayload struct {
	Data string `json:"data"`
}

// JoinPayload asks to join a session under a role. Secret is optional but
// must match the session's secret when present.
type JoinPayload struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
	Secret    string `json:"secret,omitempty"`
}

// JoinedPayload confirms a successful join.
type JoinedPayload struct {
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	CaptureActive bool   `json:"captureActive"`
}

// ErrorPayload carries a human-readable error to the connection that
// triggered the faulting operation.
type ErrorPayload struct {
	Error string `json:"error"`
}

// SessionCtlPayload drives session:start and session:stop.
type SessionCtlPayload struct {
	SessionID string `json:"sessionId,omitempty"`
}

// SessionStatePayload reports a capture state change to both parties.
type SessionStatePayload struct {
	SessionID     string `json:"sessionId"`
	CaptureActive bool   `json:"captureActive"`
}

// CaptureRequestPayload asks the viewer to produce a frame.
type CaptureRequestPayload struct {
	Timestamp int64  `json:"timestamp"`
	From      string `json:"from,omitempty"`
}

// CaptureResponsePayload carries one produced frame; on the way back to the
// controller it also carries the analysis text.
type CaptureResponsePayload struct {
	Frame     string `json:"frame"`
	Analysis  string `json:"analysis,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// BatchRequestPayload submits a set of frames for batch analysis.
type BatchRequestPayload struct {
	Frames    []string `json:"frames"`
	Timestamp int64    `json:"timestamp"`
}

// BatchProgressPayload is a fire-and-forget stage update for a running batch
// job.
type BatchProgressPayload struct {
	Stage          string `json:"stage"`
	Message        string `json:"message"`
	TotalCount     int    `json:"totalCount"`
	ProcessedCount int    `json:"processedCount"`
}

// BatchResponsePayload is the single terminal success of a batch job.
type BatchResponsePayload struct {
	Report     string `json:"report"`
	FrameCount int    `json:"frameCount"`
	Timestamp  int64  `json:"timestamp"`
}

// ChatMessagePayload asks a free-text question, optionally grounded on a
// previously captured frame.
type ChatMessagePayload struct {
	Message      string `json:"message"`
	FrameContext string `json:"frameContext,omitempty"`
}

// ChatResponsePayload answers a chat message.
type ChatResponsePayload struct {
	Message   string `json:"message"`
	Response  string `json:"response"`
	Timestamp int64  `json:"timestamp"`
}

// HeartbeatPayload is a pure liveness echo.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// ConnectionStatusPayload notifies the remaining party when its peer joins
// or leaves.
type ConnectionStatusPayload struct {
	Connected bool   `json:"connected"`
	Role      string `json:"role"`
}

// Encode marshals a typed message into its wire form.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// DecodeEnvelope parses the outer frame of an incoming message.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message missing type")
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into the type's shape.
func (e *Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", e.Type, err)
	}
	return nil
}

// ValidRole reports whether role names a joinable role.
func ValidRole(role string) bool {
	return role == RoleController || role == RoleViewer
}
