package relay

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"famtable/internal/wire"
)

// Hub fans change signals out to subscribed sockets. A socket announces
// interest with a JOIN frame; after that the hub may deliver UPDATE frames
// for the joined family. Content never crosses this channel.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*sock]struct{}
}

type sock struct {
	ws       *websocket.Conn
	send     chan wire.Message
	familyID string
	clientID string
}

// NewHub constructs an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:   log,
		rooms: make(map[string]map[*sock]struct{}),
		upgrader: websocket.Upgrader{
			// The relay stores only ciphertext; origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the socket until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	c := &sock{ws: ws, send: make(chan wire.Message, 8)}
	go c.writeLoop()
	h.readLoop(c)
}

func (c *sock) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (h *Hub) readLoop(c *sock) {
	defer func() {
		h.leave(c)
		close(c.send)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(1 << 10)
	for {
		var msg wire.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case wire.MsgJoin:
			if msg.FamilyID == "" {
				continue
			}
			h.join(c, msg.FamilyID, msg.ClientID)
		case wire.MsgUpdate:
			// A peer announced its save over the socket; fan out to the room
			// excluding the announcing socket itself.
			if msg.FamilyID != "" && msg.FamilyID == c.familyID {
				h.broadcastExcept(msg.FamilyID, c)
			}
		}
	}
}

func (h *Hub) join(c *sock, familyID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.familyID != "" {
		h.removeLocked(c)
	}
	c.familyID = familyID
	c.clientID = clientID
	room := h.rooms[familyID]
	if room == nil {
		room = make(map[*sock]struct{})
		h.rooms[familyID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(c *sock) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *sock) {
	if room, ok := h.rooms[c.familyID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.familyID)
		}
	}
}

// Notify delivers an UPDATE to every joined socket for the family except the
// one whose JOIN carried exceptClientID. Called on successful HTTP pushes;
// the pusher identifies itself with the client id header.
func (h *Hub) Notify(familyID, exceptClientID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[familyID] {
		if exceptClientID != "" && c.clientID == exceptClientID {
			continue
		}
		h.deliver(c, familyID)
	}
}

func (h *Hub) broadcastExcept(familyID string, except *sock) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[familyID] {
		if c == except {
			continue
		}
		h.deliver(c, familyID)
	}
}

// deliver never blocks; a slow socket misses a signal rather than stalling
// the hub. The consumer re-fetches on the next signal anyway.
func (h *Hub) deliver(c *sock, familyID string) {
	select {
	case c.send <- wire.Message{Type: wire.MsgUpdate, FamilyID: familyID}:
	default:
		h.log.Debug("ws send buffer full, dropping signal",
			zap.String("familyId", familyID))
	}
}

// Joined reports how many sockets are subscribed to a family (diagnostics).
func (h *Hub) Joined(familyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[familyID])
}
