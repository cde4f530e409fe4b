package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livechat-api/internal/infrastructure/metrics"
)

// connection adapts a gorilla socket to hub.Conn. gorilla allows one
// concurrent writer, so every data frame goes through mu.
type connection struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func newConnection(id string, ws *websocket.Conn, writeTimeout time.Duration) *connection {
	return &connection{id: id, ws: ws, writeTimeout: writeTimeout}
}

func (c *connection) ID() string { return c.id }

// Send writes one text frame. The deadline is the earlier of the write
// timeout and ctx's deadline.
func (c *connection) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.FramesSent.Inc()
	return nil
}

// ping is safe to call alongside Send; gorilla serialises control frames.
func (c *connection) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// closeWith sends a close frame with code and reason, then closes the socket.
func (c *connection) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	c.close()
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
