package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/Mykey001/Mt5-brigde/internal/accounts"
)

// Publisher mirrors account updates onto an external bus. Optional.
type Publisher interface {
	PublishAccountUpdate(userID uint, payload []byte) error
}

// Message is the envelope pushed to subscribers.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Notifier loads the freshly synced account view and fans it out to the
// owning user's subscribers. It implements accounts.Notifier and runs after
// the gateway critical section has closed.
type Notifier struct {
	hub       *Hub
	db        *accounts.Database
	publisher Publisher
}

// NewNotifier wires the hub to the registry. publisher may be nil.
func NewNotifier(hub *Hub, db *accounts.Database, publisher Publisher) *Notifier {
	return &Notifier{hub: hub, db: db, publisher: publisher}
}

// AccountSynced pushes the full account+positions+orders view for the
// account's owning user.
func (n *Notifier) AccountSynced(accountID uint) {
	account, err := n.db.GetAccountWithRelations(accountID)
	if err != nil {
		log.Error().Err(err).Uint("account_id", accountID).
			Msg("failed to load account for broadcast")
		return
	}
	if account == nil {
		return
	}

	payload, err := json.Marshal(Message{Type: "account_update", Data: account})
	if err != nil {
		log.Error().Err(err).Uint("account_id", accountID).Msg("failed to encode account update")
		return
	}

	n.hub.SendToUser(account.UserID, payload)

	if n.publisher != nil {
		if err := n.publisher.PublishAccountUpdate(account.UserID, payload); err != nil {
			log.Warn().Err(err).Uint("user_id", account.UserID).
				Msg("failed to publish account update event")
		}
	}
}
