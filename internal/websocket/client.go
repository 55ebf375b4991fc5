package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"friendclub/internal/observability"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 16 << 20         // media can ride along inline
	sendBuffer     = 256
	submitTimeout  = 5 * time.Second
)

// Client is one connected viewer.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeSend sync.Once
	writeMu   sync.Mutex
	closed    atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewClient wraps an upgraded connection.
func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn) *Client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		id:        uuid.NewString(),
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		ctx:       clientCtx,
		ctxCancel: cancel,
	}
}

// ID identifies the client in logs.
func (c *Client) ID() string {
	return c.id
}

func newMessageID() string {
	return uuid.NewString()
}

// ReadPump reads viewer submissions until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.ctxCancel()
		c.hub.Leave(c)
		c.closeConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("client", c.id))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("client", c.id))
			}
			return
		}

		var in ClientMessage
		if err := json.Unmarshal(data, &in); err != nil {
			slog.Debug("invalid message format",
				slog.String("error", err.Error()),
				slog.String("client", c.id))
			continue
		}
		if in.Type != TypeChat {
			continue
		}
		if in.Text == "" && in.Gif == "" {
			c.sendError("message must have text or media")
			continue
		}

		ctx, cancel := context.WithTimeout(c.ctx, submitTimeout)
		err = c.hub.submit(ctx, c, &in)
		cancel()
		if err != nil {
			slog.Error("error saving message",
				slog.String("error", err.Error()),
				slog.String("client", c.id))
			c.sendError("failed to save message")
		}
	}
}

// sendError writes an error frame directly, bypassing the hub queue.
func (c *Client) sendError(text string) {
	data, err := encodeError(text)
	if err != nil {
		return
	}
	if err := c.writeMessage(websocket.TextMessage, data); err == nil {
		observability.WebSocketMessagesSent.WithLabelValues(TypeError).Inc()
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				_ = c.writeMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline",
			slog.String("error", err.Error()),
			slog.String("client", c.id))
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
