package transport

// Content is the payload of an inbound message. Exactly one variant is set
// per message; consumers switch on the concrete type.
type Content interface {
	isContent()
}

// ContextInfo is the quoted-reply metadata attached to extended text.
type ContextInfo struct {
	Participant string `json:"participant,omitempty"`
	StanzaID    string `json:"stanzaId,omitempty"`
}

type TextContent struct {
	Text string
}

type ExtendedTextContent struct {
	Text        string
	ContextInfo ContextInfo
}

type ImageContent struct {
	Caption    string
	Mimetype   string
	FileLength int64
}

type VideoContent struct {
	Caption    string
	Mimetype   string
	FileLength int64
	Seconds    int
}

type AudioContent struct {
	Mimetype string
	Seconds  int
	PTT      bool
}

type DocumentContent struct {
	FileName   string
	Caption    string
	Mimetype   string
	FileLength int64
}

type StickerContent struct {
	Mimetype string
}

type LocationContent struct {
	Latitude  float64
	Longitude float64
	Name      string
}

type ContactContent struct {
	DisplayName string
	VCard       string
}

// UnknownContent carries the wire key of a payload shape wagate does not model.
type UnknownContent struct {
	Kind string
}

func (TextContent) isContent()         {}
func (ExtendedTextContent) isContent() {}
func (ImageContent) isContent()        {}
func (VideoContent) isContent()        {}
func (AudioContent) isContent()        {}
func (DocumentContent) isContent()     {}
func (StickerContent) isContent()      {}
func (LocationContent) isContent()     {}
func (ContactContent) isContent()      {}
func (UnknownContent) isContent()      {}

// Caption returns the user-written text carried by c, or "" when c has none.
// Text variants return their body.
func Caption(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return v.Text
	case ExtendedTextContent:
		return v.Text
	case ImageContent:
		return v.Caption
	case VideoContent:
		return v.Caption
	case DocumentContent:
		return v.Caption
	default:
		return ""
	}
}

// Mimetype returns the declared MIME type of a media payload, or "".
func Mimetype(c Content) string {
	switch v := c.(type) {
	case ImageContent:
		return v.Mimetype
	case VideoContent:
		return v.Mimetype
	case AudioContent:
		return v.Mimetype
	case DocumentContent:
		return v.Mimetype
	case StickerContent:
		return v.Mimetype
	default:
		return ""
	}
}
