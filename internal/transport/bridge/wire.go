package bridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// Inbound frame types.
const (
	frameConnectionUpdate = "connection.update"
	frameCredsUpdate      = "creds.update"
	frameMessagesUpsert   = "messages.upsert"
	frameReceiptUpdate    = "message-receipt.update"
	frameCall             = "call"
	frameStreamError      = "stream.error"
	frameResponse         = "response"
)

// inboundFrame is every JSON frame the bridge sends.
type inboundFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// flexInt64 accepts numbers and numeric strings; the bridge serializes
// protobuf Long timestamps either way.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	*f = flexInt64(n)
	return nil
}

type wireConnectionUpdate struct {
	Connection     string `json:"connection,omitempty"`
	QR             string `json:"qr,omitempty"`
	IsNewLogin     bool   `json:"isNewLogin,omitempty"`
	LastDisconnect *struct {
		StatusCode int    `json:"statusCode"`
		Reason     string `json:"reason,omitempty"`
	} `json:"lastDisconnect,omitempty"`
}

type wireUpsert struct {
	Type     string        `json:"type"`
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	Key              transport.MessageKey       `json:"key"`
	MessageTimestamp flexInt64                  `json:"messageTimestamp"`
	PushName         string                     `json:"pushName,omitempty"`
	VerifiedBizName  string                     `json:"verifiedBizName,omitempty"`
	Participant      string                     `json:"participant,omitempty"`
	Message          map[string]json.RawMessage `json:"message,omitempty"`
}

type wireExtendedText struct {
	Text        string                `json:"text"`
	ContextInfo transport.ContextInfo `json:"contextInfo"`
}

type wireMedia struct {
	Caption    string    `json:"caption,omitempty"`
	Mimetype   string    `json:"mimetype,omitempty"`
	FileLength flexInt64 `json:"fileLength,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	Seconds    int       `json:"seconds,omitempty"`
	PTT        bool      `json:"ptt,omitempty"`
}

type wireLocation struct {
	Latitude  float64 `json:"degreesLatitude"`
	Longitude float64 `json:"degreesLongitude"`
	Name      string  `json:"name,omitempty"`
}

type wireContact struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard,omitempty"`
}

type wireReceipt struct {
	Keys   []transport.MessageKey `json:"keys"`
	Status string                 `json:"status"`
}

type wireCall struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	Status string `json:"status"`
}

type wireGroup struct {
	ID           string            `json:"id"`
	Subject      string            `json:"subject"`
	Owner        string            `json:"owner,omitempty"`
	Desc         string            `json:"desc,omitempty"`
	Creation     flexInt64         `json:"creation,omitempty"`
	Participants []json.RawMessage `json:"participants"`
}

type wireSendResult struct {
	Key              transport.MessageKey `json:"key"`
	MessageTimestamp flexInt64            `json:"messageTimestamp"`
}

// toRawMessage converts the bridge message shape into the transport model.
// A message with no payload map yields a nil Content.
func (m wireMessage) toRawMessage() (transport.RawMessage, error) {
	raw := transport.RawMessage{
		Key:             m.Key,
		Timestamp:       int64(m.MessageTimestamp),
		PushName:        m.PushName,
		VerifiedBizName: m.VerifiedBizName,
		Participant:     m.Participant,
	}
	if len(m.Message) == 0 {
		return raw, nil
	}
	c, err := decodeContent(m.Message)
	if err != nil {
		return raw, fmt.Errorf("message %s: %w", m.Key.ID, err)
	}
	raw.Content = c
	return raw, nil
}

func decodeContent(msg map[string]json.RawMessage) (transport.Content, error) {
	if v, ok := msg["conversation"]; ok {
		var text string
		if err := json.Unmarshal(v, &text); err != nil {
			return nil, fmt.Errorf("conversation: %w", err)
		}
		return transport.TextContent{Text: text}, nil
	}
	if v, ok := msg["extendedTextMessage"]; ok {
		var et wireExtendedText
		if err := json.Unmarshal(v, &et); err != nil {
			return nil, fmt.Errorf("extendedTextMessage: %w", err)
		}
		return transport.ExtendedTextContent{Text: et.Text, ContextInfo: et.ContextInfo}, nil
	}

	media := func(key string) (wireMedia, bool, error) {
		v, ok := msg[key]
		if !ok {
			return wireMedia{}, false, nil
		}
		var wm wireMedia
		if err := json.Unmarshal(v, &wm); err != nil {
			return wm, true, fmt.Errorf("%s: %w", key, err)
		}
		return wm, true, nil
	}

	if wm, ok, err := media("imageMessage"); ok {
		return transport.ImageContent{Caption: wm.Caption, Mimetype: wm.Mimetype, FileLength: int64(wm.FileLength)}, err
	}
	if wm, ok, err := media("videoMessage"); ok {
		return transport.VideoContent{Caption: wm.Caption, Mimetype: wm.Mimetype, FileLength: int64(wm.FileLength), Seconds: wm.Seconds}, err
	}
	if wm, ok, err := media("audioMessage"); ok {
		return transport.AudioContent{Mimetype: wm.Mimetype, Seconds: wm.Seconds, PTT: wm.PTT}, err
	}
	if wm, ok, err := media("documentMessage"); ok {
		return transport.DocumentContent{FileName: wm.FileName, Caption: wm.Caption, Mimetype: wm.Mimetype, FileLength: int64(wm.FileLength)}, err
	}
	if wm, ok, err := media("stickerMessage"); ok {
		return transport.StickerContent{Mimetype: wm.Mimetype}, err
	}
	if v, ok := msg["locationMessage"]; ok {
		var loc wireLocation
		if err := json.Unmarshal(v, &loc); err != nil {
			return nil, fmt.Errorf("locationMessage: %w", err)
		}
		return transport.LocationContent{Latitude: loc.Latitude, Longitude: loc.Longitude, Name: loc.Name}, nil
	}
	if v, ok := msg["contactMessage"]; ok {
		var c wireContact
		if err := json.Unmarshal(v, &c); err != nil {
			return nil, fmt.Errorf("contactMessage: %w", err)
		}
		return transport.ContactContent{DisplayName: c.DisplayName, VCard: c.VCard}, nil
	}

	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return transport.UnknownContent{Kind: keys[0]}, nil
}

// wireQuoted is the outbound shape of a quoted message reference.
func wireQuoted(m *transport.RawMessage) map[string]interface{} {
	if m == nil {
		return nil
	}
	return map[string]interface{}{
		"key":              m.Key,
		"messageTimestamp": m.Timestamp,
		"participant":      m.Participant,
	}
}
