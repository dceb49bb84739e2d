// Package ws adapts fiber WebSocket connections to realtime channels.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

var (
	errChannelClosed = errors.New("channel closed")
	errQueueFull     = errors.New("outbound queue full")
)

// channel is a realtime.Channel over one WebSocket connection. Writes go
// through a bounded queue drained by writeLoop, so Send never blocks.
type channel struct {
	conn         *websocket.Conn
	out          chan []byte
	writeTimeout time.Duration

	closeOnce   sync.Once
	done        chan struct{}
	finished    chan struct{}
	closeCode   int
	closeReason string
}

func newChannel(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *channel {
	if buffer <= 0 {
		buffer = 1
	}
	return &channel{
		conn:         conn,
		out:          make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
		finished:     make(chan struct{}),
	}
}

// Send queues data. A full queue counts as a failed send.
func (c *channel) Send(data []byte) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return errQueueFull
	}
}

// Close asks the writer to send a close frame and tear the connection down.
// Only the first call has any effect.
func (c *channel) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
	return nil
}

// wait blocks until the writer has released the connection.
func (c *channel) wait() {
	<-c.finished
}

func (c *channel) writeLoop() {
	defer close(c.finished)
	defer c.conn.Close()

	for {
		select {
		case data := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			if c.closeCode == websocket.CloseAbnormalClosure {
				return
			}
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}
