package ws

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Mykey001/Mt5-brigde/internal/accounts"
	"github.com/Mykey001/Mt5-brigde/pkg/response"
)

// GinHandlers serves the real-time subscription endpoint.
type GinHandlers struct {
	hub      *Hub
	notifier *Notifier
	db       *accounts.Database
	upgrader websocket.Upgrader
}

func NewGinHandlers(hub *Hub, notifier *Notifier, db *accounts.Database, allowedOrigins []string) *GinHandlers {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &GinHandlers{
		hub:      hub,
		notifier: notifier,
		db:       db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// SubscribeHandler handles GET /ws/:user_id. The client receives an initial
// snapshot for each of its accounts, then an account_update after every
// successful sync. A {"type":"ping"} message is answered with a pong.
func (h *GinHandlers) SubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
		if err != nil {
			response.BadRequest(c, "Invalid user id")
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		sub := &subscriber{
			id:     uuid.New(),
			userID: uint(userID),
			conn:   conn,
		}
		h.hub.register(sub)
		defer func() {
			h.hub.unregister(sub)
			_ = conn.Close()
		}()

		h.sendInitialState(sub)
		h.readLoop(sub)
	}
}

// sendInitialState pushes the current mirror for every account the user
// owns, so a fresh subscriber does not wait for the next sync.
func (h *GinHandlers) sendInitialState(sub *subscriber) {
	accts, err := h.db.ListAccountsByUser(sub.userID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", sub.userID).Msg("failed to load accounts for initial push")
		return
	}
	for _, a := range accts {
		h.notifier.AccountSynced(a.ID)
	}
}

func (h *GinHandlers) readLoop(sub *subscriber) {
	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Uint("user_id", sub.userID).Msg("websocket closed unexpectedly")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(Message{Type: "pong"})
			if err := sub.write(pong); err != nil {
				return
			}
		}
	}
}
