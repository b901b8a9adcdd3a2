// Package hub implements the room broadcaster: a publish/subscribe fan-out
// keyed by channel id. Messages reach a room only through Publish, after they
// have been persisted; there is no replay for sessions joining later.
package hub

import (
	"sync"

	"go.uber.org/zap"
)

// Hub maps channel ids to the sessions currently subscribed to them.
// All mutations and dispatch go through a single mutex, which is what gives
// per-room FIFO delivery order.
type Hub struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	rooms    map[string]map[*Session]struct{}
	sessions map[*Session]map[string]struct{}
}

func New(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:   logger,
		rooms:    make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]map[string]struct{}),
	}
}

// Register adds a connected session with an empty subscription set.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; ok {
		return
	}
	h.sessions[s] = make(map[string]struct{})

	h.logger.Debugf("session %s registered", s.ID)
}

// Unregister removes the session from every room it joined and closes its
// outbound queue. Unknown sessions are a no-op.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(s)
}

// Join subscribes the session to the channel's room. Idempotent: joining a
// room twice yields the same subscription state as joining it once.
func (h *Hub) Join(s *Session, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[s]
	if !ok {
		return
	}
	subs[channelID] = struct{}{}

	room, ok := h.rooms[channelID]
	if !ok {
		room = make(map[*Session]struct{})
		h.rooms[channelID] = room
	}
	room[s] = struct{}{}

	h.logger.Debugf("session %s joined room %s", s.ID, channelID)
}

// Leave unsubscribes the session from the channel's room. Idempotent.
func (h *Hub) Leave(s *Session, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.sessions[s]; ok {
		delete(subs, channelID)
	}
	h.dropFromRoomLocked(s, channelID)

	h.logger.Debugf("session %s left room %s", s.ID, channelID)
}

// Publish delivers payload to every session currently subscribed to the
// channel's room, including the publisher's own session if subscribed.
// Sessions whose outbound queue is full are dropped. Returns the number of
// sessions the payload was delivered to.
func (h *Hub) Publish(channelID string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[channelID]
	if len(room) == 0 {
		return 0
	}

	var slow []*Session
	delivered := 0
	for s := range room {
		if s.Enqueue(payload) {
			delivered++
			continue
		}
		slow = append(slow, s)
	}

	for _, s := range slow {
		h.logger.Warnf("dropping slow session %s", s.ID)
		h.removeLocked(s)
	}

	return delivered
}

// Close unregisters every session. Used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.sessions {
		h.removeLocked(s)
	}
}

func (h *Hub) removeLocked(s *Session) {
	subs, ok := h.sessions[s]
	if !ok {
		return
	}
	for channelID := range subs {
		h.dropFromRoomLocked(s, channelID)
	}
	delete(h.sessions, s)
	s.close()

	h.logger.Debugf("session %s unregistered", s.ID)
}

func (h *Hub) dropFromRoomLocked(s *Session, channelID string) {
	room, ok := h.rooms[channelID]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, channelID)
	}
}
