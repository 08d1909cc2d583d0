// Package transporttest provides an in-memory transport.Client for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// Call is one recorded client operation.
type Call struct {
	Op       string // send, react, read, presence, groups, download
	JID      string
	Text     string
	Quoted   *transport.RawMessage
	Keys     []transport.MessageKey
	Presence transport.Presence
}

// Client records every call and replays configured results.
type Client struct {
	mu     sync.Mutex
	calls  []Call
	events chan transport.Event
	closed bool
	seq    int

	SendErr     error
	ReadErr     error
	PresenceErr error
	GroupList   []transport.Group
	Media       []byte
	MediaErr    error
}

// NewClient returns a client with a buffered event channel.
func NewClient() *Client {
	return &Client{events: make(chan transport.Event, 64)}
}

// Emit queues an event for the consumer of Events.
func (c *Client) Emit(ev transport.Event) {
	c.events <- ev
}

// Calls returns a copy of the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Count returns how many calls of op were recorded.
func (c *Client) Count(op string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Op == op {
			n++
		}
	}
	return n
}

// Ops returns the recorded operation names in order.
func (c *Client) Ops() []string {
	var ops []string
	for _, call := range c.Calls() {
		ops = append(ops, call.Op)
	}
	return ops
}

func (c *Client) record(call Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.calls = append(c.calls, call)
	return nil
}

func (c *Client) Events() <-chan transport.Event { return c.events }

func (c *Client) SendText(_ context.Context, jid, text string, quoted *transport.RawMessage) (*transport.SendReceipt, error) {
	if err := c.record(Call{Op: "send", JID: jid, Text: text, Quoted: quoted}); err != nil {
		return nil, err
	}
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	return &transport.SendReceipt{MessageID: c.nextID()}, nil
}

func (c *Client) SendReaction(_ context.Context, key transport.MessageKey, emoji string) (*transport.SendReceipt, error) {
	if err := c.record(Call{Op: "react", JID: key.RemoteJID, Text: emoji, Keys: []transport.MessageKey{key}}); err != nil {
		return nil, err
	}
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	return &transport.SendReceipt{MessageID: c.nextID()}, nil
}

func (c *Client) ReadMessages(_ context.Context, keys []transport.MessageKey) error {
	if err := c.record(Call{Op: "read", Keys: keys}); err != nil {
		return err
	}
	return c.ReadErr
}

func (c *Client) SendPresence(_ context.Context, p transport.Presence, jid string) error {
	if err := c.record(Call{Op: "presence", Presence: p, JID: jid}); err != nil {
		return err
	}
	return c.PresenceErr
}

func (c *Client) Groups(context.Context) ([]transport.Group, error) {
	if err := c.record(Call{Op: "groups"}); err != nil {
		return nil, err
	}
	return c.GroupList, nil
}

func (c *Client) DownloadMedia(_ context.Context, msg *transport.RawMessage) ([]byte, error) {
	if err := c.record(Call{Op: "download", JID: msg.Key.RemoteJID}); err != nil {
		return nil, err
	}
	if c.MediaErr != nil {
		return nil, c.MediaErr
	}
	if c.Media == nil {
		return nil, errors.New("transporttest: no media configured")
	}
	return c.Media, nil
}

// Close closes the event channel. Further calls return transport.ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) nextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("SENT%03d", c.seq)
}
