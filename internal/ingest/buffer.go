package ingest

import (
	"strings"
	"sync"

	"github.com/nextlevelbuilder/wagate/internal/message"
)

const (
	// DefaultCapacity is how many recent messages are kept.
	DefaultCapacity = 10
	// DefaultLimit is the page size when a caller passes limit <= 0.
	DefaultLimit = 50
)

// Buffer keeps the most recent accepted messages in arrival order. It is
// volatile and never persisted. Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	msgs     []message.Message
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Add appends m and drops the oldest entries beyond capacity.
func (b *Buffer) Add(m message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
	if over := len(b.msgs) - b.capacity; over > 0 {
		b.msgs = append([]message.Message(nil), b.msgs[over:]...)
	}
}

// Recent returns up to limit messages, newest first.
func (b *Buffer) Recent(limit int) []message.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return newestFirst(b.msgs, limit)
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.msgs)
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.msgs = nil
	b.mu.Unlock()
}

func newestFirst(msgs []message.Message, limit int) []message.Message {
	if limit <= 0 {
		limit = DefaultLimit
	}
	n := min(limit, len(msgs))
	out := make([]message.Message, 0, n)
	for i := len(msgs) - 1; i >= len(msgs)-n; i-- {
		out = append(out, msgs[i])
	}
	return out
}

// Stats summarizes the buffered messages.
type Stats struct {
	TotalMessages   int                         `json:"totalMessages"`
	MessageTypes    map[message.ContentType]int `json:"messageTypes"`
	GroupMessages   int                         `json:"groupMessages"`
	DirectMessages  int                         `json:"directMessages"`
	LastMessageTime int64                       `json:"lastMessageTime,omitempty"`
}

func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{TotalMessages: len(b.msgs), MessageTypes: make(map[message.ContentType]int)}
	for _, m := range b.msgs {
		s.MessageTypes[m.Type]++
		if m.IsGroup {
			s.GroupMessages++
		} else {
			s.DirectMessages++
		}
		s.LastMessageTime = max(s.LastMessageTime, m.Timestamp)
	}
	return s
}

// SearchOptions narrows Search. Zero fields do not filter.
type SearchOptions struct {
	Limit      int
	Type       message.ContentType
	IsGroup    *bool
	FromSender string
	// From and To bound the message timestamp, epoch seconds inclusive.
	From int64
	To   int64
}

// Search returns messages whose text contains query (case-insensitive) and
// that pass opts, newest first.
func (b *Buffer) Search(query string, opts SearchOptions) []message.Message {
	q := strings.ToLower(query)
	b.mu.RLock()
	var hits []message.Message
	for _, m := range b.msgs {
		switch {
		case q != "" && !strings.Contains(strings.ToLower(m.Text), q):
		case opts.Type != "" && m.Type != opts.Type:
		case opts.IsGroup != nil && m.IsGroup != *opts.IsGroup:
		case opts.FromSender != "" && !strings.Contains(m.SenderPhone, opts.FromSender):
		case opts.From > 0 && m.Timestamp < opts.From:
		case opts.To > 0 && m.Timestamp > opts.To:
		default:
			hits = append(hits, m)
		}
	}
	b.mu.RUnlock()
	return newestFirst(hits, opts.Limit)
}
