// Package events mirrors account updates onto a NATS bus so backend
// consumers can follow syncs without holding a WebSocket.
package events

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const subjectPrefix = "accounts.update"

// Publisher publishes account update payloads, one subject per owning user.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials the NATS server. Connection lifecycle events are logged;
// the client reconnects on its own.
func Connect(url string) (*Publisher, error) {
	options := []nats.Option{
		nats.Name("mt5-bridge"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	}

	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

// PublishAccountUpdate fires the payload at accounts.update.<user_id>.
func (p *Publisher) PublishAccountUpdate(userID uint, payload []byte) error {
	return p.nc.Publish(fmt.Sprintf("%s.%d", subjectPrefix, userID), payload)
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("nats drain failed")
	}
}
