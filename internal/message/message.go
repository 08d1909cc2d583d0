// Package message holds the canonical records exchanged between the ingest
// pipeline, the trigger engine and the outward API.
package message

import (
	"time"

	"github.com/mattn/go-runewidth"
)

// ContentType classifies the payload a Message was extracted from.
type ContentType string

const (
	TypeText         ContentType = "text"
	TypeExtendedText ContentType = "extended_text"
	TypeImage        ContentType = "image"
	TypeVideo        ContentType = "video"
	TypeAudio        ContentType = "audio"
	TypeDocument     ContentType = "document"
	TypeSticker      ContentType = "sticker"
	TypeLocation     ContentType = "location"
	TypeContact      ContentType = "contact"
	TypeMedia        ContentType = "media"
	TypeUnknown      ContentType = "unknown"
)

// Label is the human-readable (Indonesian) name used in report texts.
func (t ContentType) Label() string {
	switch t {
	case TypeText, TypeExtendedText:
		return "Teks"
	case TypeImage:
		return "Gambar"
	case TypeVideo:
		return "Video"
	case TypeAudio:
		return "Audio"
	case TypeDocument:
		return "Dokumen"
	case TypeSticker:
		return "Stiker"
	case TypeLocation:
		return "Lokasi"
	case TypeContact:
		return "Kontak"
	default:
		return "Media"
	}
}

// CaptionBearing reports whether the type can carry user-written text as a caption.
func (t ContentType) CaptionBearing() bool {
	return t == TypeImage || t == TypeVideo || t == TypeDocument
}

// Message is one accepted inbound message. Immutable once built.
type Message struct {
	ID          string      `json:"id"`
	From        string      `json:"from"`
	SenderPhone string      `json:"senderPhone"`
	SenderName  string      `json:"senderName"`
	IsGroup     bool        `json:"isGroup"`
	Text        string      `json:"message"`
	Type        ContentType `json:"type"`
	Timestamp   int64       `json:"timestamp"`
	ReceivedAt  time.Time   `json:"receivedAt"`
}

// Delivery records the outcome of an outbound send or reaction.
type Delivery struct {
	Success       bool   `json:"success"`
	MessageID     string `json:"messageId"`
	To            string `json:"to"`
	Message       string `json:"message,omitempty"`
	Reaction      string `json:"reaction,omitempty"`
	TargetMessage string `json:"targetMessage,omitempty"`
	IsReply       bool   `json:"isReply,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// Preview shortens text to at most width terminal cells for logging.
func Preview(text string, width int) string {
	return runewidth.Truncate(text, width, "...")
}
