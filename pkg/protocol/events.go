package protocol

// ProtocolVersion is bumped on incompatible event frame changes.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	EventConnectionStatus = "connection.status"
	EventPairingQR        = "pairing.qr"
	EventMessageReceived  = "message.received"
	EventTriggerFired     = "trigger.fired"
	EventTriggersToggled  = "triggers.toggled"
	EventSessionReset     = "session.reset"
	EventReceipt          = "message.receipt"
	EventCall             = "call"
	EventShutdown         = "shutdown"
)

// FrameTypeEvent is the only frame type on the event stream.
const FrameTypeEvent = "event"

// EventFrame is one server-to-client message on /ws.
type EventFrame struct {
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	Seq     int64       `json:"seq,omitempty"`
}

// NewEvent builds an event frame.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}

// TriggerFiredPayload is the payload of EventTriggerFired.
type TriggerFiredPayload struct {
	Prefix    string `json:"prefix"`
	MessageID string `json:"messageId"`
	Silent    bool   `json:"silent"`
}

// SessionResetPayload is the payload of EventSessionReset.
type SessionResetPayload struct {
	Cause string `json:"cause"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
