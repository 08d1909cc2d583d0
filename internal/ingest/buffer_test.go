package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/wagate/internal/message"
)

func fill(b *Buffer, msgs ...message.Message) {
	for _, m := range msgs {
		b.Add(m)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	b := NewBuffer(3)
	fill(b, message.Message{ID: "a"}, message.Message{ID: "b"}, message.Message{ID: "c"}, message.Message{ID: "d"})

	ids := func(ms []message.Message) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}
	assert.Equal(t, []string{"d", "c", "b"}, ids(b.Recent(50)))
	assert.Equal(t, []string{"d"}, ids(b.Recent(1)))

	b.Clear()
	assert.Empty(t, b.Recent(5))
	assert.Zero(t, b.Len())
}

func TestStats(t *testing.T) {
	b := NewBuffer(10)
	fill(b,
		message.Message{Type: message.TypeText, Timestamp: 10},
		message.Message{Type: message.TypeText, IsGroup: true, Timestamp: 30},
		message.Message{Type: message.TypeImage, Timestamp: 20},
	)
	s := b.Stats()
	assert.Equal(t, 3, s.TotalMessages)
	assert.Equal(t, 2, s.MessageTypes[message.TypeText])
	assert.Equal(t, 1, s.MessageTypes[message.TypeImage])
	assert.Equal(t, 1, s.GroupMessages)
	assert.Equal(t, 2, s.DirectMessages)
	assert.Equal(t, int64(30), s.LastMessageTime)
}

func TestSearch(t *testing.T) {
	b := NewBuffer(10)
	yes := true
	fill(b,
		message.Message{ID: "1", Text: "Plafond bocor", SenderPhone: "628111", Type: message.TypeText, Timestamp: 100},
		message.Message{ID: "2", Text: "lampu mati", SenderPhone: "628222", Type: message.TypeText, IsGroup: true, Timestamp: 200},
		message.Message{ID: "3", Text: "plafond retak", SenderPhone: "628222", Type: message.TypeImage, Timestamp: 300},
	)

	tests := []struct {
		name  string
		query string
		opts  SearchOptions
		want  []string
	}{
		{"text", "PLAFOND", SearchOptions{}, []string{"3", "1"}},
		{"type", "", SearchOptions{Type: message.TypeImage}, []string{"3"}},
		{"group", "", SearchOptions{IsGroup: &yes}, []string{"2"}},
		{"sender", "", SearchOptions{FromSender: "222"}, []string{"3", "2"}},
		{"range", "", SearchOptions{From: 150, To: 250}, []string{"2"}},
		{"limit", "", SearchOptions{Limit: 1}, []string{"3"}},
	}
	for _, tt := range tests {
		var got []string
		for _, m := range b.Search(tt.query, tt.opts) {
			got = append(got, m.ID)
		}
		assert.Equal(t, tt.want, got, tt.name)
	}
}
