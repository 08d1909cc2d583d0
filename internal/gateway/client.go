package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	maxInboundBytes  = 4096
)

// Client is one event-stream subscriber on /ws. The stream is server to
// client only; inbound frames other than control frames are discarded.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan protocol.EventFrame
	seq  atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.EventFrame, clientSendBuffer),
		done: make(chan struct{}),
	}
}

// SendEvent queues ev without blocking. Frames are dropped for a client
// whose buffer is full.
func (c *Client) SendEvent(ev protocol.EventFrame) {
	ev.Seq = c.seq.Add(1)
	select {
	case <-c.done:
	case c.send <- ev:
	default:
		slog.Warn("event dropped for slow client", "id", c.id, "event", ev.Event)
	}
}

// Run pumps frames until the connection fails or ctx ends.
func (c *Client) Run(ctx context.Context) {
	go c.writeLoop(ctx)
	c.readLoop()
}

func (c *Client) readLoop() {
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Debug("websocket write failed", "id", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
