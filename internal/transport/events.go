package transport

import "encoding/json"

// Event is anything a Client emits on its Events channel.
type Event interface {
	isEvent()
}

// Connection values reported in ConnectionUpdate.
const (
	ConnConnecting = "connecting"
	ConnOpen       = "open"
	ConnClose      = "close"
)

// ConnectionUpdate reports a link state change or a pairing QR payload.
type ConnectionUpdate struct {
	Connection string // one of the Conn* values, empty for QR-only updates
	QR         string
	StatusCode int    // disconnect status code on close
	Reason     string // disconnect reason name on close, when known
	IsNewLogin bool
}

// CredentialsUpdate carries auth files that changed and must be persisted.
type CredentialsUpdate struct {
	Files map[string]json.RawMessage
}

// MessagesUpsert is a batch of inbound messages.
type MessagesUpsert struct {
	Type     string // "notify" for live messages, "append" for history
	Messages []RawMessage
}

// ReceiptUpdate reports delivery or read receipts for sent messages.
type ReceiptUpdate struct {
	Keys   []MessageKey
	Status string
}

// CallEvent reports an incoming call offer.
type CallEvent struct {
	ID     string
	From   string
	Status string
}

// StreamError reports a protocol-level error that did not close the link.
type StreamError struct {
	Message string
}

func (ConnectionUpdate) isEvent()  {}
func (CredentialsUpdate) isEvent() {}
func (MessagesUpsert) isEvent()    {}
func (ReceiptUpdate) isEvent()     {}
func (CallEvent) isEvent()         {}
func (StreamError) isEvent()       {}
