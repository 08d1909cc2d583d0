// Package transport defines the contract between wagate and the process that
// speaks the WhatsApp wire protocol.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrClosed is returned by client operations after Close or a dropped link.
var ErrClosed = errors.New("transport: client closed")

const (
	UserSuffix  = "@s.whatsapp.net"
	GroupSuffix = "@g.us"
)

// MessageKey identifies a message within a chat.
type MessageKey struct {
	RemoteJID     string `json:"remoteJid"`
	ID            string `json:"id"`
	FromMe        bool   `json:"fromMe,omitempty"`
	Participant   string `json:"participant,omitempty"`
	ParticipantPN string `json:"participantPn,omitempty"`
}

// IsGroup reports whether the key belongs to a group chat.
func (k MessageKey) IsGroup() bool {
	return strings.HasSuffix(k.RemoteJID, GroupSuffix)
}

// RawMessage is an inbound message as delivered by the transport.
type RawMessage struct {
	Key             MessageKey
	Timestamp       int64 // epoch seconds
	PushName        string
	VerifiedBizName string
	Participant     string
	Content         Content
}

// Presence is a chat presence state.
type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceUnavailable Presence = "unavailable"
	PresenceComposing   Presence = "composing"
	PresencePaused      Presence = "paused"
)

// SendReceipt is what the transport reports after an outbound send.
type SendReceipt struct {
	MessageID string
	Timestamp int64
}

// Group is a group chat the session participates in.
type Group struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Owner        string `json:"owner,omitempty"`
	Description  string `json:"desc,omitempty"`
	Creation     int64  `json:"creation,omitempty"`
	Participants int    `json:"participantCount"`
}

// AuthState is the persisted credential material handed to a new connection.
// Keys are logical file names (creds.json, pre-key-1.json, ...).
type AuthState struct {
	Files map[string]json.RawMessage
}

// Client is one live connection to the transport.
type Client interface {
	// Events yields connection and message events in arrival order.
	// The channel is closed when the connection ends.
	Events() <-chan Event
	SendText(ctx context.Context, jid, text string, quoted *RawMessage) (*SendReceipt, error)
	SendReaction(ctx context.Context, key MessageKey, emoji string) (*SendReceipt, error)
	ReadMessages(ctx context.Context, keys []MessageKey) error
	SendPresence(ctx context.Context, p Presence, jid string) error
	Groups(ctx context.Context) ([]Group, error)
	DownloadMedia(ctx context.Context, msg *RawMessage) ([]byte, error)
	Close() error
}

// Dialer constructs a Client from persisted auth material.
type Dialer func(ctx context.Context, auth AuthState) (Client, error)

// UserJID turns a bare phone number into a user JID. Values already carrying
// a JID suffix are returned unchanged.
func UserJID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return phone + UserSuffix
}

// PhoneFromJID strips the JID server part and any device suffix.
func PhoneFromJID(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}
