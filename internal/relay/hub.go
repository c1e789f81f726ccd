// Package relay is the chat relay: rooms of websocket clients, every
// frame fanned out to the whole room, sender included. Clients rely on
// that echo behavior staying intact.
package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wavelink/connect/internal/domain"
)

type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomID]map[*Client]struct{})}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.Room]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.Room] = room
	}
	room[c] = struct{}{}
	log.Info().Str("module", "relay.hub").Str("room", string(c.Room)).
		Str("client", c.ID).Int("count", len(room)).Msg("client added")
}

func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.Room]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.Room)
	}
	log.Info().Str("module", "relay.hub").Str("room", string(c.Room)).
		Str("client", c.ID).Msg("client removed")
}

// Broadcast fans the frame out to every client in the room, including the
// sender. Slow clients are dropped from the fan-out, not disconnected.
func (h *Hub) Broadcast(room domain.RoomID, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.rooms[room] {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "relay.hub").
				Str("client", c.ID).Msg("frame dropped")
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) RoomCount(room domain.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
