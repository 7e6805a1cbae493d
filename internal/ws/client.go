package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	defaultPingPeriod = (pongWait * 9) / 10
	minPingPeriod     = time.Second
	maxMessageSize    = 4096
	sendBuffer        = 64
)

// Client is one websocket connection with its outbound queue.
type Client struct {
	conn       *websocket.Conn
	info       ConnInfo
	send       chan []byte
	pingPeriod time.Duration

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, info ConnInfo, keepAlive time.Duration) *Client {
	return &Client{conn: conn, info: info, send: make(chan []byte, sendBuffer), pingPeriod: pingInterval(keepAlive)}
}

// pingInterval bounds the requested keep-alive so pongs always arrive before
// the read deadline.
func pingInterval(keepAlive time.Duration) time.Duration {
	switch {
	case keepAlive <= 0 || keepAlive >= pongWait:
		return defaultPingPeriod
	case keepAlive < minPingPeriod:
		return minPingPeriod
	}
	return keepAlive
}

func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the queue and pings the peer. It returns when the queue
// is closed or a write fails.
func (c *Client) writePump() error {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return nil
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// readPump consumes inbound frames until the connection fails. Every frame
// and pong counts as activity.
func (c *Client) readPump(onActivity func()) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		onActivity()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
		onActivity()
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
