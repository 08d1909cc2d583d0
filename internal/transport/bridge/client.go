// Package bridge implements transport.Client over a WebSocket link to a
// WhatsApp bridge process. The bridge owns the wire protocol and pairing
// crypto; this package exchanges JSON frames with it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// statusConnectionLost is reported when the link drops without the bridge
// announcing a reason first.
const statusConnectionLost = 408

// Config configures the bridge link.
type Config struct {
	URL                 string
	Token               string
	HandshakeTimeout    time.Duration
	RequestTimeout      time.Duration
	MarkOnlineOnConnect bool
}

// Client is a live bridge connection.
type Client struct {
	conn    *websocket.Conn
	cfg     Config
	writeMu sync.Mutex

	events chan transport.Event
	done   chan struct{}

	mu        sync.Mutex
	pending   map[string]chan inboundFrame
	closed    bool
	sawClose  bool
	closeOnce sync.Once
}

// Dialer returns a transport.Dialer that connects to the bridge at cfg.URL
// and presents auth as the first frame.
func Dialer(cfg Config) transport.Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return func(ctx context.Context, auth transport.AuthState) (transport.Client, error) {
		return Dial(ctx, cfg, auth)
	}
}

// Dial connects to the bridge and starts the read loop.
func Dial(ctx context.Context, cfg Config, auth transport.AuthState) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bridge: url is required")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		conn:    conn,
		cfg:     cfg,
		events:  make(chan transport.Event, 64),
		done:    make(chan struct{}),
		pending: make(map[string]chan inboundFrame),
	}

	files := auth.Files
	if files == nil {
		files = map[string]json.RawMessage{}
	}
	if err := c.write(map[string]interface{}{
		"type":                "auth",
		"files":               files,
		"markOnlineOnConnect": cfg.MarkOnlineOnConnect,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bridge: send auth: %w", err)
	}

	slog.Info("whatsapp bridge connected", "url", cfg.URL, "auth_files", len(files))
	go c.readLoop()
	return c, nil
}

// Events implements transport.Client.
func (c *Client) Events() <-chan transport.Event { return c.events }

// Close shuts the link down. Pending requests fail with transport.ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()

		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// request sends a correlated frame and waits for the matching response.
func (c *Client) request(ctx context.Context, kind string, body map[string]interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan inboundFrame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if body == nil {
		body = map[string]interface{}{}
	}
	body["type"] = kind
	body["id"] = id
	if err := c.write(body); err != nil {
		return nil, fmt.Errorf("bridge: %s: %w", kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bridge: %s: %w", kind, ctx.Err())
	case <-c.done:
		return nil, transport.ErrClosed
	case resp := <-ch:
		if !resp.OK {
			msg := resp.Error
			if msg == "" {
				msg = "request rejected"
			}
			return nil, fmt.Errorf("bridge: %s: %s", kind, msg)
		}
		return resp.Data, nil
	}
}

// SendText implements transport.Client.
func (c *Client) SendText(ctx context.Context, jid, text string, quoted *transport.RawMessage) (*transport.SendReceipt, error) {
	body := map[string]interface{}{"to": jid, "text": text}
	if q := wireQuoted(quoted); q != nil {
		body["quoted"] = q
	}
	data, err := c.request(ctx, "send", body)
	if err != nil {
		return nil, err
	}
	return decodeReceipt(data)
}

// SendReaction implements transport.Client.
func (c *Client) SendReaction(ctx context.Context, key transport.MessageKey, emoji string) (*transport.SendReceipt, error) {
	data, err := c.request(ctx, "react", map[string]interface{}{"key": key, "emoji": emoji})
	if err != nil {
		return nil, err
	}
	return decodeReceipt(data)
}

// ReadMessages implements transport.Client.
func (c *Client) ReadMessages(ctx context.Context, keys []transport.MessageKey) error {
	_, err := c.request(ctx, "read", map[string]interface{}{"keys": keys})
	return err
}

// SendPresence implements transport.Client. An empty jid sets global presence.
func (c *Client) SendPresence(ctx context.Context, p transport.Presence, jid string) error {
	body := map[string]interface{}{"presence": p}
	if jid != "" {
		body["to"] = jid
	}
	_, err := c.request(ctx, "presence", body)
	return err
}

// Groups implements transport.Client.
func (c *Client) Groups(ctx context.Context) ([]transport.Group, error) {
	data, err := c.request(ctx, "groups", nil)
	if err != nil {
		return nil, err
	}
	var wg map[string]wireGroup
	if err := json.Unmarshal(data, &wg); err != nil {
		return nil, fmt.Errorf("bridge: decode groups: %w", err)
	}
	groups := make([]transport.Group, 0, len(wg))
	for id, g := range wg {
		if g.ID == "" {
			g.ID = id
		}
		groups = append(groups, transport.Group{
			ID:           g.ID,
			Subject:      g.Subject,
			Owner:        g.Owner,
			Description:  g.Desc,
			Creation:     int64(g.Creation),
			Participants: len(g.Participants),
		})
	}
	return groups, nil
}

// DownloadMedia implements transport.Client.
func (c *Client) DownloadMedia(ctx context.Context, msg *transport.RawMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("bridge: download: nil message")
	}
	data, err := c.request(ctx, "download", map[string]interface{}{"key": msg.Key})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []byte `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("bridge: decode download: %w", err)
	}
	return resp.Data, nil
}

func decodeReceipt(data json.RawMessage) (*transport.SendReceipt, error) {
	var res wireSendResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("bridge: decode send result: %w", err)
		}
	}
	ts := int64(res.MessageTimestamp)
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return &transport.SendReceipt{MessageID: res.Key.ID, Timestamp: ts}, nil
}

// readLoop pumps bridge frames into the events channel until the link ends.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		sawClose, closed := c.sawClose, c.closed
		c.mu.Unlock()
		if !sawClose && !closed {
			c.emit(transport.ConnectionUpdate{Connection: transport.ConnClose, StatusCode: statusConnectionLost, Reason: "connectionLost"})
		}
		close(c.events)
		_ = c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				slog.Info("whatsapp bridge closed the link")
			} else {
				c.mu.Lock()
				closed := c.closed
				c.mu.Unlock()
				if !closed {
					slog.Warn("whatsapp bridge read error", "error", err)
				}
			}
			return
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("invalid whatsapp bridge frame", "error", err)
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f inboundFrame) {
	switch f.Type {
	case frameResponse:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if ok {
			ch <- f
		}

	case frameConnectionUpdate:
		var u wireConnectionUpdate
		if err := json.Unmarshal(f.Data, &u); err != nil {
			slog.Warn("invalid connection.update frame", "error", err)
			return
		}
		ev := transport.ConnectionUpdate{Connection: u.Connection, QR: u.QR, IsNewLogin: u.IsNewLogin}
		if u.LastDisconnect != nil {
			ev.StatusCode = u.LastDisconnect.StatusCode
			ev.Reason = u.LastDisconnect.Reason
		}
		if ev.Connection == transport.ConnClose {
			c.mu.Lock()
			c.sawClose = true
			c.mu.Unlock()
		}
		c.emit(ev)

	case frameCredsUpdate:
		var files map[string]json.RawMessage
		if err := json.Unmarshal(f.Data, &files); err != nil {
			slog.Warn("invalid creds.update frame", "error", err)
			return
		}
		c.emit(transport.CredentialsUpdate{Files: files})

	case frameMessagesUpsert:
		var up wireUpsert
		if err := json.Unmarshal(f.Data, &up); err != nil {
			slog.Warn("invalid messages.upsert frame", "error", err)
			return
		}
		msgs := make([]transport.RawMessage, 0, len(up.Messages))
		for _, wm := range up.Messages {
			raw, err := wm.toRawMessage()
			if err != nil {
				slog.Warn("skipping undecodable whatsapp message", "error", err)
				continue
			}
			msgs = append(msgs, raw)
		}
		c.emit(transport.MessagesUpsert{Type: up.Type, Messages: msgs})

	case frameReceiptUpdate:
		var r wireReceipt
		if err := json.Unmarshal(f.Data, &r); err != nil {
			slog.Warn("invalid receipt frame", "error", err)
			return
		}
		c.emit(transport.ReceiptUpdate{Keys: r.Keys, Status: r.Status})

	case frameCall:
		var call wireCall
		if err := json.Unmarshal(f.Data, &call); err != nil {
			slog.Warn("invalid call frame", "error", err)
			return
		}
		c.emit(transport.CallEvent{ID: call.ID, From: call.From, Status: call.Status})

	case frameStreamError:
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(f.Data, &e)
		c.emit(transport.StreamError{Message: e.Message})

	default:
		slog.Debug("ignoring whatsapp bridge frame", "type", f.Type)
	}
}

func (c *Client) emit(ev transport.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
