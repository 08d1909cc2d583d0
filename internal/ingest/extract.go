package ingest

import (
	"log/slog"

	"github.com/nextlevelbuilder/wagate/internal/message"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

const unknownSender = "Unknown User"

// extractContent maps a payload to its display text and type. Media with a
// caption shows the caption; everything else gets a bracketed placeholder.
func extractContent(c transport.Content) (string, message.ContentType) {
	switch v := c.(type) {
	case transport.TextContent:
		return v.Text, message.TypeText
	case transport.ExtendedTextContent:
		return v.Text, message.TypeExtendedText
	case transport.ImageContent:
		return orPlaceholder(v.Caption, "[Image]"), message.TypeImage
	case transport.VideoContent:
		return orPlaceholder(v.Caption, "[Video]"), message.TypeVideo
	case transport.AudioContent:
		return "[Audio]", message.TypeAudio
	case transport.DocumentContent:
		name := v.FileName
		if name == "" {
			name = "Unknown"
		}
		return orPlaceholder(v.Caption, "[Document: "+name+"]"), message.TypeDocument
	case transport.StickerContent:
		return "[Sticker]", message.TypeSticker
	case transport.LocationContent:
		return "[Location]", message.TypeLocation
	case transport.ContactContent:
		name := v.DisplayName
		if name == "" {
			name = "Unknown"
		}
		return "[Contact: " + name + "]", message.TypeContact
	case transport.UnknownContent:
		slog.Debug("unmodelled message content", "kind", v.Kind)
		return "[Unknown Media]", message.TypeUnknown
	default:
		return "[Unknown Media]", message.TypeUnknown
	}
}

func orPlaceholder(caption, placeholder string) string {
	if caption != "" {
		return caption
	}
	return placeholder
}

// senderOf resolves the sender JID and phone. Group messages try, in order,
// the participant phone JID, the key participant, the message participant
// and the quoted-context participant before falling back to the group JID.
func senderOf(raw *transport.RawMessage) (jid, phone string) {
	if !raw.Key.IsGroup() {
		return raw.Key.RemoteJID, transport.PhoneFromJID(raw.Key.RemoteJID)
	}

	var quoted string
	if ext, ok := raw.Content.(transport.ExtendedTextContent); ok {
		quoted = ext.ContextInfo.Participant
	}
	candidates := []struct{ source, jid string }{
		{"key.participantPn", raw.Key.ParticipantPN},
		{"key.participant", raw.Key.Participant},
		{"message.participant", raw.Participant},
		{"contextInfo.participant", quoted},
	}
	for _, c := range candidates {
		if c.jid != "" {
			slog.Debug("group sender resolved", "source", c.source, "jid", c.jid)
			return c.jid, transport.PhoneFromJID(c.jid)
		}
	}

	slog.Warn("group message without participant, using group id as sender",
		"group", raw.Key.RemoteJID, "message_id", raw.Key.ID)
	return raw.Key.RemoteJID, transport.PhoneFromJID(raw.Key.RemoteJID)
}

func senderName(raw *transport.RawMessage) string {
	switch {
	case raw.PushName != "":
		return raw.PushName
	case raw.VerifiedBizName != "":
		return raw.VerifiedBizName
	default:
		return unknownSender
	}
}
