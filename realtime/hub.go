package realtime

import (
	"sync"

	"flowboard/domain"
)

const defaultConnBuffer = 16

// Hub is the process-local subscriber registry: live connections and the
// rooms they joined. Exactly one process owns the registry for any given
// connection; cross-process delivery goes through the relay, never shared
// memory.
type Hub struct {
	mu    sync.Mutex
	conns map[string]chan domain.Event
	rooms map[string]map[string]struct{}
	buf   int
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]chan domain.Event),
		rooms: make(map[string]map[string]struct{}),
		buf:   defaultConnBuffer,
	}
}

// Register adds a connection and returns its event channel. The channel is
// closed by Unregister.
func (h *Hub) Register(connID string) <-chan domain.Event {
	ch := make(chan domain.Event, h.buf)
	h.mu.Lock()
	h.conns[connID] = ch
	h.mu.Unlock()
	return ch
}

// Unregister removes a connection from every room and closes its channel.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	for room, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	close(ch)
}

// Join adds a connection to a room. One connection may belong to many rooms.
func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connID] = struct{}{}
}

// Leave removes a connection from a room.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Emit delivers the event to every connection currently joined to its room.
// Delivery is at most once per subscriber: a subscriber whose buffer is full
// misses the event rather than blocking the publisher. Events emitted from
// the same goroutine arrive at a given subscriber in emit order.
func (h *Hub) Emit(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.rooms[ev.Room] {
		ch, ok := h.conns[connID]
		if !ok {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports how many connections are joined to a room.
func (h *Hub) Subscribers(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
