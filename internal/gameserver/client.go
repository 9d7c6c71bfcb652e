package gameserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thisisrandy/igo/internal/protocol"
)

const (
	sendQueueSize  = 256
	maxMessageSize = 4096
	writeTimeout   = 10 * time.Second

	// Pings go out every 10 seconds; a connection that stays silent
	// for about 30 seconds is considered dead.
	pingInterval = 10 * time.Second
	pongWait     = 30 * time.Second
)

// Client wraps a single websocket connection. Outgoing frames are
// serialized through a buffered send channel drained by writePump, so
// handler code and update callbacks never write to the socket
// directly.
type Client struct {
	id   string
	conn *websocket.Conn

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, id string) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		sendCh:  make(chan []byte, sendQueueSize),
		closeCh: make(chan struct{}),
	}
}

// ID identifies the client in logs: remote address plus a truncated
// websocket key.
func (c *Client) ID() string {
	return c.id
}

// Send queues an outgoing frame. Returns an error if the client is
// closed or too far behind to keep up.
func (c *Client) Send(msg protocol.Outgoing) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", msg.Type, err)
	}

	select {
	case <-c.closeCh:
		return fmt.Errorf("client %s is closed", c.id)
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
		// A full queue means the reader is gone or hopelessly slow.
		c.Close()
		return fmt.Errorf("client %s send queue full", c.id)
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
	})
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closeCh:
			return
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("write failed", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection dies, handing each to the
// manager along with its receipt timestamp.
func (c *Client) readPump(m *Manager) {
	defer func() {
		c.Close()
		m.Disconnect(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("read failed", "client", c.id, "error", err)
			}
			return
		}
		m.HandleMessage(c, data, unixSeconds(time.Now()))
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
