package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/wagate/internal/message"
	"github.com/nextlevelbuilder/wagate/internal/metrics"
	"github.com/nextlevelbuilder/wagate/internal/tracing"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// SenderInfo identifies who sent a triggering message.
type SenderInfo struct {
	PhoneNumber string              `json:"phoneNumber"`
	Name        string              `json:"name"`
	JID         string              `json:"jid"`
	MessageType message.ContentType `json:"messageType"`
}

// Request is what a handler receives.
type Request struct {
	Text   string
	Sender SenderInfo
	// MessageID is the id of the triggering message.
	MessageID string
	Raw       *transport.RawMessage
	Client    transport.Client
}

// HandlerFunc produces the response text for a handler trigger.
type HandlerFunc func(ctx context.Context, req Request) (string, error)

// Replier sends a quoted reply.
type Replier interface {
	Send(ctx context.Context, client transport.Client, jid, text string, quoted *transport.RawMessage) (*transport.SendReceipt, error)
}

// Result describes one dispatch.
type Result struct {
	Matched      bool
	Trigger      Definition
	ResponseText string
	// Silent is set when the trigger ran without replying.
	Silent   bool
	Delivery *message.Delivery
}

// Engine dispatches messages through a Table.
type Engine struct {
	table    *Table
	handlers map[HandlerID]HandlerFunc
	replier  Replier
	now      func() time.Time
}

// NewEngine binds handlers by id. Ids missing from handlers fall back to
// HandlerNotFound at dispatch time.
func NewEngine(table *Table, handlers map[HandlerID]HandlerFunc, replier Replier) *Engine {
	return &Engine{table: table, handlers: handlers, replier: replier, now: time.Now}
}

// Table returns the engine's trigger table.
func (e *Engine) Table() *Table { return e.table }

// Supported reports whether a message of type t with the given raw payload
// may fire a trigger: text, extended text, or media with a caption.
func Supported(t message.ContentType, raw *transport.RawMessage) bool {
	switch {
	case t == message.TypeText || t == message.TypeExtendedText:
		return true
	case t.CaptionBearing():
		return raw != nil && strings.TrimSpace(transport.Caption(raw.Content)) != ""
	default:
		return false
	}
}

// Dispatch matches msg against the table and runs the first hit. Any panic
// or error inside matching, the handler, or the reply is logged and reported
// as a non-match; it never reaches the caller.
func (e *Engine) Dispatch(ctx context.Context, client transport.Client, msg message.Message, raw *transport.RawMessage) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("trigger dispatch panicked", "message_id", msg.ID, "panic", r)
			metrics.RecordTriggerDispatch(res.Trigger.Prefix, "panic")
			res = Result{}
		}
	}()

	if !e.table.Enabled() || !Supported(msg.Type, raw) {
		return Result{}
	}
	def, ok := e.table.Match(msg.Text)
	if !ok {
		return Result{}
	}
	res.Trigger = def

	ctx, span := tracing.Tracer().Start(ctx, "trigger.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("trigger.prefix", def.Prefix),
		attribute.String("trigger.type", string(def.Kind)),
		attribute.Bool("trigger.reply", def.ReplyEnabled),
	)
	slog.Info("trigger matched", "prefix", def.Prefix, "message_id", msg.ID, "sender", msg.SenderPhone)

	text, err := e.respond(ctx, def, msg, raw, client)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("trigger handler failed", "prefix", def.Prefix, "message_id", msg.ID, "error", err)
		metrics.RecordTriggerDispatch(def.Prefix, "error")
		return Result{}
	}

	res.Matched = true
	res.ResponseText = text
	if !def.ReplyEnabled {
		res.Silent = true
		slog.Info("trigger processed silently", "prefix", def.Prefix, "message_id", msg.ID)
		metrics.RecordTriggerDispatch(def.Prefix, "silent")
		return res
	}

	d, err := e.reply(ctx, client, msg, raw, text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("trigger reply failed", "prefix", def.Prefix, "to", chatJID(msg, raw), "error", err)
		metrics.RecordTriggerDispatch(def.Prefix, "error")
		return Result{}
	}
	res.Delivery = d
	slog.Info("trigger reply sent", "prefix", def.Prefix, "to", d.To, "preview", message.Preview(text, 50))
	metrics.RecordTriggerDispatch(def.Prefix, "replied")
	return res
}

func (e *Engine) respond(ctx context.Context, def Definition, msg message.Message, raw *transport.RawMessage, client transport.Client) (string, error) {
	if def.Kind == KindStatic {
		return def.Response, nil
	}
	h, ok := e.handlers[def.Handler]
	if !ok || h == nil {
		slog.Warn("trigger handler not registered", "prefix", def.Prefix, "handler", def.Handler)
		return HandlerNotFound, nil
	}
	return h(ctx, Request{
		Text:      strings.TrimSpace(msg.Text),
		Sender:    senderInfo(msg, raw),
		MessageID: msg.ID,
		Raw:       raw,
		Client:    client,
	})
}

func (e *Engine) reply(ctx context.Context, client transport.Client, msg message.Message, raw *transport.RawMessage, text string) (*message.Delivery, error) {
	if e.replier == nil || client == nil {
		return nil, fmt.Errorf("trigger: no transport to reply through")
	}
	to := chatJID(msg, raw)
	receipt, err := e.replier.Send(ctx, client, to, text, raw)
	if err != nil {
		return nil, err
	}
	return &message.Delivery{
		Success:   true,
		MessageID: receipt.MessageID,
		To:        to,
		Message:   text,
		IsReply:   true,
		Timestamp: e.now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func senderInfo(msg message.Message, raw *transport.RawMessage) SenderInfo {
	return SenderInfo{
		PhoneNumber: msg.SenderPhone,
		Name:        msg.SenderName,
		JID:         chatJID(msg, raw),
		MessageType: msg.Type,
	}
}

// chatJID is the chat a reply belongs in: the group for group messages,
// the sender otherwise.
func chatJID(msg message.Message, raw *transport.RawMessage) string {
	if raw != nil && raw.Key.RemoteJID != "" {
		return raw.Key.RemoteJID
	}
	return msg.From
}
