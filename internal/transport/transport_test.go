package transport

import "testing"

func TestUserJID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"6281234567890", "6281234567890@s.whatsapp.net"},
		{"6281234567890@s.whatsapp.net", "6281234567890@s.whatsapp.net"},
		{"1203630@g.us", "1203630@g.us"},
	}
	for _, tt := range tests {
		if got := UserJID(tt.in); got != tt.want {
			t.Errorf("UserJID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPhoneFromJID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"6281234567890@s.whatsapp.net", "6281234567890"},
		{"6281234567890:12@s.whatsapp.net", "6281234567890"},
		{"1203630@g.us", "1203630"},
		{"bare", "bare"},
	}
	for _, tt := range tests {
		if got := PhoneFromJID(tt.in); got != tt.want {
			t.Errorf("PhoneFromJID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMessageKeyIsGroup(t *testing.T) {
	if !(MessageKey{RemoteJID: "1203630@g.us"}).IsGroup() {
		t.Error("group JID not detected")
	}
	if (MessageKey{RemoteJID: "628@s.whatsapp.net"}).IsGroup() {
		t.Error("user JID detected as group")
	}
}

func TestCaption(t *testing.T) {
	tests := []struct {
		c    Content
		want string
	}{
		{TextContent{Text: "hi"}, "hi"},
		{ExtendedTextContent{Text: "reply"}, "reply"},
		{ImageContent{Caption: ".a1 bocor"}, ".a1 bocor"},
		{ImageContent{}, ""},
		{DocumentContent{FileName: "a.pdf", Caption: "lihat"}, "lihat"},
		{AudioContent{}, ""},
		{UnknownContent{Kind: "pollCreationMessage"}, ""},
	}
	for _, tt := range tests {
		if got := Caption(tt.c); got != tt.want {
			t.Errorf("Caption(%#v) = %q, want %q", tt.c, got, tt.want)
		}
	}
}
