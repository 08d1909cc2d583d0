package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/ingest"
	"github.com/nextlevelbuilder/wagate/internal/message"
	"github.com/nextlevelbuilder/wagate/internal/status"
	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/supervisor"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/internal/triggers"
	"github.com/nextlevelbuilder/wagate/internal/webhook"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

// liveClient returns the current client when the session is open.
func (s *Service) liveClient() (transport.Client, error) {
	c := s.currentClient()
	if c == nil || !s.sup.Status().IsConnected {
		return nil, ErrNotConnected
	}
	return c, nil
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// SendMessage sends text to a phone number or JID with human-like pacing.
func (s *Service) SendMessage(ctx context.Context, to, text string) (*message.Delivery, error) {
	to = strings.TrimSpace(to)
	if to == "" || strings.TrimSpace(text) == "" {
		return nil, protocol.Invalid("Missing required fields: to and message")
	}
	c, err := s.liveClient()
	if err != nil {
		return nil, err
	}

	jid := transport.UserJID(to)
	slog.Info("sending message", "to", transport.PhoneFromJID(jid), "length", len(text))
	receipt, err := s.sender.Send(ctx, c, jid, text, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: send message: %w", err)
	}
	return &message.Delivery{
		Success:   true,
		MessageID: receipt.MessageID,
		To:        jid,
		Message:   text,
		Timestamp: s.timestamp(),
	}, nil
}

// SendGroupMessage sends text to a group. groupID may omit the @g.us suffix.
func (s *Service) SendGroupMessage(ctx context.Context, groupID, text string) (*message.Delivery, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" || strings.TrimSpace(text) == "" {
		return nil, protocol.Invalid("Missing required fields: groupId and message")
	}
	c, err := s.liveClient()
	if err != nil {
		return nil, err
	}

	jid := groupID
	if !strings.HasSuffix(jid, transport.GroupSuffix) {
		jid += transport.GroupSuffix
	}
	slog.Info("sending group message", "group", jid, "length", len(text))
	receipt, err := c.SendText(ctx, jid, text, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: send group message: %w", err)
	}
	return &message.Delivery{
		Success:   true,
		MessageID: receipt.MessageID,
		To:        jid,
		Message:   text,
		Timestamp: s.timestamp(),
	}, nil
}

// SendReaction reacts to the message identified by key.
func (s *Service) SendReaction(ctx context.Context, key transport.MessageKey, emoji string) (*message.Delivery, error) {
	if key.RemoteJID == "" || key.ID == "" || strings.TrimSpace(emoji) == "" {
		return nil, protocol.Invalid("Missing required fields: messageKey and emoji")
	}
	c, err := s.liveClient()
	if err != nil {
		return nil, err
	}

	slog.Info("sending reaction", "emoji", emoji, "target", key.ID)
	receipt, err := c.SendReaction(ctx, key, emoji)
	if err != nil {
		return nil, fmt.Errorf("gateway: send reaction: %w", err)
	}
	return &message.Delivery{
		Success:       true,
		MessageID:     receipt.MessageID,
		To:            key.RemoteJID,
		Reaction:      emoji,
		TargetMessage: key.ID,
		Timestamp:     s.timestamp(),
	}, nil
}

// Groups lists the groups the session participates in.
func (s *Service) Groups(ctx context.Context) ([]transport.Group, error) {
	c, err := s.liveClient()
	if err != nil {
		return nil, err
	}
	groups, err := c.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: list groups: %w", err)
	}
	slog.Info("retrieved groups", "count", len(groups))
	return groups, nil
}

// ReceivedMessages returns up to limit buffered messages, newest first.
// limit <= 0 means ingest.DefaultLimit.
func (s *Service) ReceivedMessages(limit int) []message.Message {
	if limit <= 0 {
		limit = ingest.DefaultLimit
	}
	return s.pipeline.Buffer().Recent(limit)
}

func (s *Service) ClearReceivedMessages() {
	s.pipeline.Buffer().Clear()
	slog.Info("received messages cleared")
}

func (s *Service) MessageStats() ingest.Stats {
	return s.pipeline.Buffer().Stats()
}

func (s *Service) SearchMessages(query string, opts ingest.SearchOptions) []message.Message {
	if opts.Limit <= 0 {
		opts.Limit = ingest.DefaultLimit
	}
	return s.pipeline.Buffer().Search(query, opts)
}

func (s *Service) ConnectionStatus() supervisor.Status {
	return s.sup.Status()
}

// ServiceStatus aggregates connection, session and message state.
func (s *Service) ServiceStatus(ctx context.Context) status.Report {
	s.mu.RLock()
	initialized, started := s.initialized, s.startedAt
	s.mu.RUnlock()

	st := status.Report{
		Initialized:     initialized,
		Connection:      s.sup.Status(),
		Messages:        s.MessageStats(),
		TriggersEnabled: s.engine.Table().Enabled(),
		Services: map[string]string{
			"connection": "active",
			"session":    "active",
			"message":    "active",
			"group":      "active",
		},
	}
	if !started.IsZero() {
		st.Uptime = s.now().Sub(started).Round(time.Second).String()
	}
	if s.webhook != nil {
		ws := s.webhook.Settings()
		st.WebhookEnabled = ws.Enabled && ws.Endpoint != ""
	}
	if info, err := s.store.Info(ctx); err != nil {
		slog.Warn("read session info failed", "error", err)
		st.Services["session"] = "error"
	} else {
		st.Session = info
	}
	return st
}

// ResetSession wipes the persisted session and reconnects for a new pairing.
// It returns once the session has been wiped; reconnection follows.
func (s *Service) ResetSession(ctx context.Context) error {
	return s.request(ctx, evReset)
}

// Restart reconnects while keeping the persisted session.
func (s *Service) Restart(ctx context.Context) error {
	return s.request(ctx, evRestart)
}

func (s *Service) SessionInfo(ctx context.Context) (*store.SessionInfo, error) {
	return s.store.Info(ctx)
}

func (s *Service) BackupSession(ctx context.Context) (*store.BackupResult, error) {
	return s.store.Backup(ctx)
}

func (s *Service) TriggersEnabled() bool {
	return s.engine.Table().Enabled()
}

// SetTriggersEnabled flips the global trigger switch.
func (s *Service) SetTriggersEnabled(enabled bool) {
	s.engine.Table().SetEnabled(enabled)
	slog.Info("triggers toggled", "enabled", enabled)
	s.pub.Broadcast(bus.Event{Name: protocol.EventTriggersToggled, Payload: map[string]bool{"enabled": enabled}})
}

func (s *Service) Triggers() triggers.Snapshot {
	return s.engine.Table().Snapshot()
}

// Reconfigure applies settings that may change while running.
func (s *Service) Reconfigure(hook webhook.Settings, threshold time.Duration) {
	if s.webhook != nil {
		s.webhook.Update(hook)
	}
	s.pipeline.SetThreshold(threshold)
}
