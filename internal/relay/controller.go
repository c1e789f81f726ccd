package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wavelink/connect/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Hub        *Hub
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(hub *Hub, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{Hub: hub, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

// pongWait leaves one missed ping before the read deadline fires.
func (ctl *Controller) pongWait() time.Duration {
	return ctl.PingPeriod + 10*time.Second
}

// HandleWS upgrades the connection and wires the client into its room.
// lobbyId and userName arrive as query parameters, like the original
// relay expected them.
func (ctl *Controller) HandleWS(c *gin.Context) {
	room := domain.RoomID(c.Query("lobbyId"))
	userName := c.Query("userName")
	if room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lobbyId required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	client := NewClient(uuid.NewString(), room, userName, ws)
	ctl.Hub.Add(client)
	log.Info().Str("module", "relay").Str("room", string(room)).
		Str("user", userName).Str("client", client.ID).Msg("new connection")

	go client.writePump(ctl.PingPeriod)
	go func() {
		client.readPump(ctl.ReadLimit, ctl.pongWait(), ctl.handleFrame)
		ctl.Hub.Remove(client)
	}()
}

// handleFrame relays the frame untouched to the whole room. The envelope
// is decoded for the log line only; unrecognized types pass through.
func (ctl *Controller) handleFrame(c *Client, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	frameType := "opaque"
	if err := json.Unmarshal(data, &env); err == nil && env.Type != "" {
		frameType = env.Type
	}
	sent := ctl.Hub.Broadcast(c.Room, data)
	log.Debug().Str("module", "relay").Str("room", string(c.Room)).
		Str("type", frameType).Int("sent_to", sent).Msg("frame relayed")
}
