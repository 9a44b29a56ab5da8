package events

import (
	"sync"

	"github.com/google/uuid"
)

const sessionBuffer = 16

// Session is one live connection belonging to a user. Payloads arrive on C
// and are dropped, never queued, when the buffer is full.
type Session struct {
	ID     string
	UserID string
	C      chan []byte
}

// Hub is the process-local registry of connected sessions, keyed by user.
// Connect and disconnect may race with publishes; the mutex is the only
// coordination.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Session]struct{})}
}

// Subscribe registers a new session for the user. Called once the transport
// handshake has succeeded.
func (h *Hub) Subscribe(userID string) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		C:      make(chan []byte, sessionBuffer),
	}
	h.mu.Lock()
	set, ok := h.sessions[userID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes the session on disconnect and closes its channel.
func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	set, ok := h.sessions[s.UserID]
	if ok {
		if _, live := set[s]; live {
			delete(set, s)
			close(s.C)
		}
		if len(set) == 0 {
			delete(h.sessions, s.UserID)
		}
	}
	h.mu.Unlock()
}

// Broadcast fans the payload out to every session the user has connected,
// and to no one else. A session that cannot keep up loses the event; with no
// sessions connected the payload is dropped silently. Returns the number of
// sessions that received it.
func (h *Hub) Broadcast(userID string, payload []byte) int {
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send. They never block: the buffer either has room or the event is
	// lost.
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for s := range h.sessions[userID] {
		select {
		case s.C <- payload:
			delivered++
		default:
		}
	}
	return delivered
}

// Count reports the user's live session count.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}
