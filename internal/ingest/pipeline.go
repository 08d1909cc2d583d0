// Package ingest turns transport messages into canonical messages, filters
// stale backlog, buffers recent traffic and hands messages to the trigger
// engine.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/message"
	"github.com/nextlevelbuilder/wagate/internal/metrics"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/internal/triggers"
)

// DefaultThreshold is the age past which a message counts as backlog.
const DefaultThreshold = 60 * time.Second

// Dispatcher runs triggers for an accepted message.
type Dispatcher interface {
	Dispatch(ctx context.Context, client transport.Client, msg message.Message, raw *transport.RawMessage) triggers.Result
}

// Reader acknowledges a message as read.
type Reader interface {
	SimulateRead(ctx context.Context, client transport.Client, key transport.MessageKey)
}

// Options configures a Pipeline.
type Options struct {
	Threshold  time.Duration
	Buffer     *Buffer
	Dispatcher Dispatcher
	Reader     Reader
	Now        func() time.Time
}

// Pipeline processes inbound messages one at a time.
type Pipeline struct {
	threshold  atomic.Int64 // nanoseconds
	buffer     *Buffer
	dispatcher Dispatcher
	reader     Reader
	now        func() time.Time
}

func New(opts Options) *Pipeline {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Buffer == nil {
		opts.Buffer = NewBuffer(DefaultCapacity)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Pipeline{
		buffer:     opts.Buffer,
		dispatcher: opts.Dispatcher,
		reader:     opts.Reader,
		now:        opts.Now,
	}
	p.threshold.Store(int64(opts.Threshold))
	return p
}

// Threshold returns the current staleness threshold.
func (p *Pipeline) Threshold() time.Duration { return time.Duration(p.threshold.Load()) }

// SetThreshold changes the staleness threshold. Values <= 0 are ignored.
func (p *Pipeline) SetThreshold(d time.Duration) {
	if d > 0 {
		p.threshold.Store(int64(d))
	}
}

// Buffer returns the recent-message buffer.
func (p *Pipeline) Buffer() *Buffer { return p.buffer }

// Process handles one inbound message. It reports false for self-sent,
// empty and stale messages; stale ones are still marked read.
func (p *Pipeline) Process(ctx context.Context, client transport.Client, raw *transport.RawMessage) (*message.Message, bool) {
	if raw.Key.FromMe {
		metrics.RecordMessage("self")
		return nil, false
	}
	if raw.Content == nil {
		metrics.RecordMessage("empty")
		return nil, false
	}

	now := p.now()
	age := now.Sub(time.Unix(raw.Timestamp, 0))
	if threshold := p.Threshold(); age > threshold {
		slog.Info("old message, marking read without processing",
			"message_id", raw.Key.ID, "age", age.Round(time.Second), "threshold", threshold,
			"sender", transport.PhoneFromJID(raw.Key.RemoteJID))
		metrics.RecordMessage("stale")
		p.read(ctx, client, raw.Key)
		return nil, false
	}

	jid, phone := senderOf(raw)
	text, typ := extractContent(raw.Content)
	msg := message.Message{
		ID:          raw.Key.ID,
		From:        jid,
		SenderPhone: phone,
		SenderName:  senderName(raw),
		IsGroup:     raw.Key.IsGroup(),
		Text:        text,
		Type:        typ,
		Timestamp:   raw.Timestamp,
		ReceivedAt:  now,
	}
	p.buffer.Add(msg)
	metrics.RecordMessage("accepted")
	slog.Info("message received",
		"message_id", msg.ID, "sender", phone, "group", msg.IsGroup, "type", typ,
		"length", len(text), "age", age.Round(time.Second), "preview", message.Preview(text, 50))

	p.read(ctx, client, raw.Key)

	if p.dispatcher != nil {
		if res := p.dispatcher.Dispatch(ctx, client, msg, raw); res.Matched {
			slog.Info("trigger executed", "prefix", res.Trigger.Prefix, "message_id", msg.ID, "silent", res.Silent)
		}
	}
	return &msg, true
}

// ProcessBatch processes an upsert in transport order. A failure on one
// message never stops the rest.
func (p *Pipeline) ProcessBatch(ctx context.Context, client transport.Client, up transport.MessagesUpsert) []message.Message {
	slog.Info("processing message batch", "count", len(up.Messages), "type", up.Type)
	var accepted []message.Message
	for i := range up.Messages {
		raw := &up.Messages[i]
		msg, ok, err := p.processSafe(ctx, client, raw)
		switch {
		case err != nil:
			slog.Error("message processing failed", "index", i+1, "message_id", raw.Key.ID, "error", err)
		case ok:
			accepted = append(accepted, *msg)
		default:
			slog.Debug("message skipped", "index", i+1, "message_id", raw.Key.ID)
		}
	}
	slog.Info("message batch complete", "accepted", len(accepted), "total", len(up.Messages))
	return accepted
}

func (p *Pipeline) processSafe(ctx context.Context, client transport.Client, raw *transport.RawMessage) (msg *message.Message, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	msg, ok = p.Process(ctx, client, raw)
	return msg, ok, nil
}

func (p *Pipeline) read(ctx context.Context, client transport.Client, key transport.MessageKey) {
	if p.reader == nil || client == nil {
		return
	}
	p.reader.SimulateRead(ctx, client, key)
}
