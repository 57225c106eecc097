package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer; the feed is one-way so
	// anything beyond control frames is noise
	maxMessageSize = 4096
)

// Client represents a WebSocket client connection
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan wsEnvelope
	id        string
	closeOnce sync.Once
}

// readPump drains inbound frames so pings and close handshakes are
// processed. The dashboard feed is push-only; client payloads are
// discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
			// Hub already gone; shutdown path closes the connection
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.server.logger.Debugw("Read pump started", "client_id", c.id)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error",
					"error", err.Error(),
					"client_id", c.id,
				)
			}
			break
		}
	}
}

// writePump writes queued envelopes and keepalive pings to the peer
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	c.server.logger.Debugw("Write pump started", "client_id", c.id)

	for {
		select {
		case <-c.server.ctx.Done():
			c.server.logger.Debugw("Write pump stopping due to server shutdown", "client_id", c.id)
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Warnw("WebSocket write error",
					"error", err.Error(),
					"client_id", c.id,
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues an envelope without blocking. A false return means the
// client cannot keep up and should be dropped.
func (c *Client) trySend(msg wsEnvelope) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close safely closes the client's send channel using sync.Once to
// prevent double-close panics
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.send != nil {
			close(c.send)
		}
	})
}
