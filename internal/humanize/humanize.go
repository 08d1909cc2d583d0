// Package humanize wraps outbound WhatsApp sends in presence, seen and typing
// signals paced like a person at a keyboard.
package humanize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/wagate/internal/timing"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

const (
	typingGapMin = 500 * time.Millisecond
	typingGapMax = 1500 * time.Millisecond
	settleDelay  = 200 * time.Millisecond
	readDelayMin = time.Second
	readDelayMax = 3 * time.Second
)

// Options configures a Sender. Zero values select production behavior.
type Options struct {
	// SendsPerMinute caps outbound sends across all chats. 0 means 20.
	SendsPerMinute int
	Sleep          timing.SleepFunc
	Timings        func(text string) timing.HumanTimings
	Between        func(lo, hi time.Duration) time.Duration
}

// Sender performs human-paced sends. Safe for concurrent use.
type Sender struct {
	limiter *rate.Limiter
	sleep   timing.SleepFunc
	timings func(string) timing.HumanTimings
	between func(lo, hi time.Duration) time.Duration
}

func New(opts Options) *Sender {
	if opts.SendsPerMinute <= 0 {
		opts.SendsPerMinute = 20
	}
	if opts.Sleep == nil {
		opts.Sleep = timing.Sleep
	}
	if opts.Timings == nil {
		opts.Timings = timing.Human
	}
	if opts.Between == nil {
		opts.Between = timing.RandomDelay
	}
	every := time.Minute / time.Duration(opts.SendsPerMinute)
	return &Sender{
		limiter: rate.NewLimiter(rate.Every(every), 3),
		sleep:   opts.Sleep,
		timings: opts.Timings,
		between: opts.Between,
	}
}

// Send delivers text to jid after going online, marking the chat seen and
// showing a typing indicator. quoted, when set, makes the send a reply.
// Presence and seen failures are logged and do not abort the send.
func (s *Sender) Send(ctx context.Context, client transport.Client, jid, text string, quoted *transport.RawMessage) (*transport.SendReceipt, error) {
	if client == nil {
		return nil, fmt.Errorf("humanize: no client")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("humanize: rate limit: %w", err)
	}

	plan := s.timings(text)
	slog.Debug("human-like send", "jid", jid, "reply", quoted != nil,
		"seen_ms", plan.Seen.Milliseconds(), "typing_ms", plan.Typing.Milliseconds(), "send_ms", plan.Send.Milliseconds())

	s.presence(ctx, client, transport.PresenceAvailable, "")

	if err := s.sleep(ctx, plan.Seen); err != nil {
		return nil, err
	}
	s.seen(ctx, client, jid, quoted)

	if err := s.sleep(ctx, s.between(typingGapMin, typingGapMax)); err != nil {
		return nil, err
	}
	s.presence(ctx, client, transport.PresenceComposing, jid)
	if err := s.sleep(ctx, plan.Typing); err != nil {
		return nil, err
	}
	s.presence(ctx, client, transport.PresencePaused, jid)

	if err := s.sleep(ctx, plan.Send); err != nil {
		return nil, err
	}
	receipt, err := client.SendText(ctx, jid, text, quoted)
	if err != nil {
		return nil, fmt.Errorf("humanize: send: %w", err)
	}

	if err := s.sleep(ctx, settleDelay); err == nil {
		s.presence(ctx, client, transport.PresenceAvailable, "")
	}
	slog.Info("human-like message sent", "jid", jid, "message_id", receipt.MessageID, "reply", quoted != nil)
	return receipt, nil
}

// SimulateRead waits 1-3s and marks key as read. Errors are logged only.
func (s *Sender) SimulateRead(ctx context.Context, client transport.Client, key transport.MessageKey) {
	delay := s.between(readDelayMin, readDelayMax)
	if err := s.sleep(ctx, delay); err != nil {
		return
	}
	if err := client.ReadMessages(ctx, []transport.MessageKey{key}); err != nil {
		slog.Warn("could not mark message as read", "message_id", key.ID, "error", err)
		return
	}
	slog.Debug("message marked read", "message_id", key.ID, "delay", delay)
}

func (s *Sender) presence(ctx context.Context, client transport.Client, p transport.Presence, jid string) {
	if err := client.SendPresence(ctx, p, jid); err != nil {
		slog.Warn("could not update presence", "presence", p, "jid", jid, "error", err)
	}
}

// seen marks the chat read. A reply marks the quoted message; a plain send
// has no message to point at, so the chat JID alone is acknowledged.
func (s *Sender) seen(ctx context.Context, client transport.Client, jid string, quoted *transport.RawMessage) {
	key := transport.MessageKey{RemoteJID: jid}
	if quoted != nil {
		key = quoted.Key
	}
	if err := client.ReadMessages(ctx, []transport.MessageKey{key}); err != nil {
		slog.Warn("could not send seen indicator", "jid", jid, "error", err)
	}
}
