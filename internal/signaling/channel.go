// Package signaling owns the chat relay connection for one room: a single
// reconnecting websocket, replaced wholesale on every reconnect.
package signaling

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wavelink/connect/internal/domain"
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const DefaultRetryDelay = 3 * time.Second

type Config struct {
	Endpoint string
	Room     domain.RoomID
	UserName string
	// RetryDelay between reconnection attempts. Zero means DefaultRetryDelay.
	RetryDelay time.Duration
}

// Channel is one signaling connection per room. Payload delivery is only
// guaranteed while the state is Open; Send never queues.
type Channel struct {
	cfg Config

	onState   func(State)
	onMessage func(domain.ChatMessage)
	onFrame   func([]byte)

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	retryTimer *time.Timer
	closed     bool
}

func New(cfg Config) *Channel {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Channel{cfg: cfg, state: StateConnecting}
}

// OnState registers the state transition callback. Set before Connect.
func (c *Channel) OnState(fn func(State)) { c.onState = fn }

// OnMessage registers the decoded chat frame callback. Set before Connect.
func (c *Channel) OnMessage(fn func(domain.ChatMessage)) { c.onMessage = fn }

// OnFrame registers a hook for frames of any other type. The channel
// accepts them without interpreting; frames with no hook are dropped.
func (c *Channel) OnFrame(fn func([]byte)) { c.onFrame = fn }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts dialing the relay. It returns immediately; the outcome
// arrives through the state callback. The Connecting transition is
// always emitted, including on the very first connect.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(StateConnecting)
	}
	go c.dial()
}

func (c *Channel) endpointURL() string {
	q := url.Values{}
	q.Set("lobbyId", string(c.cfg.Room))
	q.Set("userName", c.cfg.UserName)
	return c.cfg.Endpoint + "?" + q.Encode()
}

func (c *Channel) dial() {
	conn, _, err := websocket.DefaultDialer.Dial(c.endpointURL(), nil)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signaling").
			Str("room", string(c.cfg.Room)).Msg("dial failed, will retry")
		emit := c.scheduleRetryLocked()
		fn := c.onState
		c.mu.Unlock()
		if emit && fn != nil {
			fn(StateReconnecting)
		}
		return
	}
	c.conn = conn
	c.mu.Unlock()

	log.Info().Str("module", "signaling").Str("room", string(c.cfg.Room)).Msg("connected")
	c.setState(StateOpen)
	go c.readPump(conn)
}

// scheduleRetryLocked arms the reconnect timer. Caller holds c.mu and
// emits the Reconnecting transition after unlocking when this returns
// true; repeated dial failures within one outage stay silent.
func (c *Channel) scheduleRetryLocked() bool {
	entered := c.state != StateReconnecting
	c.state = StateReconnecting
	c.retryTimer = time.AfterFunc(c.cfg.RetryDelay, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.dial()
	})
	return entered
}

func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.closed || c.conn != conn {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			log.Warn().Err(err).Str("module", "signaling").
				Str("room", string(c.cfg.Room)).Msg("connection lost, reconnecting")
			emit := c.scheduleRetryLocked()
			fn := c.onState
			c.mu.Unlock()
			if emit && fn != nil {
				fn(StateReconnecting)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Channel) handleFrame(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signaling").Msg("dropping malformed frame")
		return
	}
	if env.Type != domain.FrameTypeChat {
		if fn := c.onFrame; fn != nil {
			fn(data)
		}
		return
	}
	var msg domain.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signaling").Msg("dropping malformed chat frame")
		return
	}
	if fn := c.onMessage; fn != nil {
		fn(msg)
	}
}

// Send transmits a chat message. Not open means the message is logged and
// dropped, never queued or retried.
func (c *Channel) Send(msg domain.ChatMessage) {
	c.sendJSON(msg)
}

// SendRaw transmits an arbitrary frame, same delivery rules as Send.
func (c *Channel) SendRaw(v any) {
	c.sendJSON(v)
}

func (c *Channel) sendJSON(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		log.Warn().Str("module", "signaling").Str("state", c.state.String()).
			Msg("channel not open, message dropped")
		return
	}
	if err := c.conn.WriteJSON(v); err != nil {
		log.Error().Err(err).Str("module", "signaling").Msg("write failed")
	}
}

// Close tears the channel down. Any pending reconnect is canceled and no
// new one is ever scheduled.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosed
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	fn := c.onState
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if fn != nil {
		fn(StateClosed)
	}
	log.Info().Str("module", "signaling").Str("room", string(c.cfg.Room)).Msg("closed")
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.closed || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
