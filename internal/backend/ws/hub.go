package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"chatsync/pkg/wire"
)

// Hub maintains room membership: one websocket connection may join many
// conversation rooms.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]string
	conns map[*websocket.Conn]map[string]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*websocket.Conn]string),
		conns: make(map[*websocket.Conn]map[string]bool),
	}
}

// AddClient registers a connection in a conversation room.
func (h *Hub) AddClient(conversationID string, conn *websocket.Conn, actorID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]string)
	}
	h.rooms[conversationID][conn] = actorID
	if _, ok := h.conns[conn]; !ok {
		h.conns[conn] = make(map[string]bool)
	}
	h.conns[conn][conversationID] = true
}

// RemoveClient removes a connection from a single room.
func (h *Hub) RemoveClient(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conversationID, conn)
}

// RemoveConn removes a connection from every room it joined and returns
// the affected conversation ids.
func (h *Hub) RemoveConn(conn *websocket.Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var conversationIDs []string
	for conversationID := range h.conns[conn] {
		conversationIDs = append(conversationIDs, conversationID)
		h.removeLocked(conversationID, conn)
	}
	return conversationIDs
}

func (h *Hub) removeLocked(conversationID string, conn *websocket.Conn) {
	if members, ok := h.rooms[conversationID]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if joined, ok := h.conns[conn]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(h.conns, conn)
		}
	}
}

// RoomSize reports the member count of a room.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// BroadcastMessage delivers a new message to every room member except the
// sender, who already holds the confirmed copy from the POST response.
func (h *Hub) BroadcastMessage(conversationID string, msg wire.Message, excludeActor string) {
	event := wire.Event{Type: wire.EventMessageNew, Message: &msg, ConversationID: conversationID}
	h.broadcast(conversationID, event, func(conn *websocket.Conn, actorID string) bool {
		return actorID == excludeActor
	})
}

// BroadcastTyping relays a typing change to everyone else in the room.
func (h *Hub) BroadcastTyping(conversationID, actorID string, typing bool, exclude *websocket.Conn) {
	eventType := wire.EventTypingStart
	if !typing {
		eventType = wire.EventTypingStop
	}
	event := wire.Event{Type: eventType, ConversationID: conversationID, ActorID: actorID}
	h.broadcast(conversationID, event, func(conn *websocket.Conn, _ string) bool {
		return conn == exclude
	})
}

// BroadcastPresence announces an actor's online state to a room.
func (h *Hub) BroadcastPresence(conversationID, actorID string, online bool, exclude *websocket.Conn) {
	eventType := wire.EventPresenceOnline
	if !online {
		eventType = wire.EventPresenceOffline
	}
	event := wire.Event{Type: eventType, ActorID: actorID}
	h.broadcast(conversationID, event, func(conn *websocket.Conn, _ string) bool {
		return conn == exclude
	})
}

func (h *Hub) broadcast(conversationID string, event wire.Event, skip func(*websocket.Conn, string) bool) {
	h.mu.RLock()
	members := make(map[*websocket.Conn]string, len(h.rooms[conversationID]))
	for conn, actorID := range h.rooms[conversationID] {
		members[conn] = actorID
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("websocket event marshal error: %v", err)
		return
	}
	for conn, actorID := range members {
		if skip(conn, actorID) {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.RemoveConn(conn)
		}
	}
}
