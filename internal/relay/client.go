package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wavelink/connect/internal/domain"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 32
)

var ErrBackpressure = errors.New("backpressure")

// Client is one relay-side websocket session.
type Client struct {
	ID       string
	Room     domain.RoomID
	UserName string

	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func NewClient(id string, room domain.RoomID, userName string, conn *websocket.Conn) *Client {
	return &Client{
		ID:       id,
		Room:     room,
		UserName: userName,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}
}

func (c *Client) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "relay").Str("client", c.ID).Msg("set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Str("client", c.ID).Msg("write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(readLimit int64, pongWait time.Duration, onFrame func(*Client, []byte)) {
	defer c.Close()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "relay").Str("client", c.ID).Msg("read loop ended")
			return
		}
		onFrame(c, data)
	}
}
