package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 10 * time.Second

// subscriber is one live WebSocket connection belonging to a user. Writes
// are serialized per connection (gorilla allows one concurrent writer).
type subscriber struct {
	id     uuid.UUID
	userID uint
	conn   *websocket.Conn

	mu sync.Mutex
}

func (s *subscriber) write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is the registry of live subscribers, keyed by owning user id.
// Delivery is best-effort: a subscriber that fails a write is dropped
// without affecting the rest of the broadcast.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[uint]map[*subscriber]struct{})}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[sub.userID] == nil {
		h.subscribers[sub.userID] = make(map[*subscriber]struct{})
	}
	h.subscribers[sub.userID][sub] = struct{}{}
	log.Info().Uint("user_id", sub.userID).Str("subscriber", sub.id.String()).
		Msg("websocket subscriber connected")
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscribers[sub.userID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, sub.userID)
		}
	}
	log.Info().Uint("user_id", sub.userID).Str("subscriber", sub.id.String()).
		Msg("websocket subscriber disconnected")
}

// SubscriberCount reports live connections for a user.
func (h *Hub) SubscriberCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// SendToUser delivers payload to every subscriber of the user. A failed
// write is treated as an implicit unsubscribe.
func (h *Hub) SendToUser(userID uint, payload []byte) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers[userID]))
	for sub := range h.subscribers[userID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.write(payload); err != nil {
			log.Warn().Err(err).Uint("user_id", userID).
				Str("subscriber", sub.id.String()).Msg("dropping dead subscriber")
			h.unregister(sub)
			_ = sub.conn.Close()
		}
	}
}
