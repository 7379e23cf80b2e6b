package relay

import (
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 64
	writeDeadline    = 10 * time.Second
)

// ErrClientStalled reports a dashboard client whose outbound queue is full
// or that has already been closed.
var ErrClientStalled = errors.New("relay: client send queue full")

// Client wraps a websocket connection with a buffered outbound queue and a
// dedicated writer goroutine, so a stalled peer never blocks hub fan-out.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	log       *slog.Logger
	closeOnce sync.Once
}

// NewClient constructs a client wrapper and starts its writer.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		done: make(chan struct{}),
		log:  logger,
	}
	go c.writePump()
	return c
}

// Send queues a message without blocking. A full queue means the client is
// not keeping up with the telemetry stream; it gets dropped rather than
// stalling delivery to everyone else. Sending to a closed client is an
// error, never a panic: a client evicted from one project stream may still
// be registered on another.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientStalled
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientStalled
	default:
		c.log.Warn("dropping stalled websocket client")
		return ErrClientStalled
	}
}

// Close stops the writer and terminates the connection. Safe to call from
// multiple goroutines and more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		}
	}
}
