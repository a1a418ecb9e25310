package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldops/dispatchd/infra/logger"
)

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when the outbound buffer is full.
	ErrSlowConsumer = errors.New("outbound buffer full")
)

// conn wraps one technician WebSocket. Writes go through a buffered channel
// drained by a single pump goroutine, so Send never blocks a dispatch flow on
// a slow client.
type conn struct {
	technicianID string
	ws           *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	pingInterval time.Duration
	log          logger.Logger

	mu     sync.Mutex
	closed bool
}

func newConn(technicianID string, ws *websocket.Conn, sendBuffer int, writeTimeout, pingInterval time.Duration, log logger.Logger) *conn {
	return &conn{
		technicianID: technicianID,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		log:          log,
	}
}

// Send implements presence.ChannelHandle.
func (c *conn) Send(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.mu.Unlock()
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// close marks the connection dead and stops the write pump. Safe to call more
// than once.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.ws.Close()
}

// writePump serializes all writes to the socket and keeps the connection
// alive with pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.writeTimeout))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debugf("write to %s failed: %v", c.technicianID, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
