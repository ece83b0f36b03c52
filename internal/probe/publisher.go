// Package probe relays the detection stream over NATS.
package probe

import (
	"errors"
	"fmt"

	"SpectraIDS/internal/config"
	"SpectraIDS/internal/logging"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Send once the NATS connection is closed.
var ErrNotConnected = errors.New("probe: nats connection closed")

// Publisher forwards every detection event it is sent to a NATS subject. It
// is a broadcast subscriber.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url, subject string) (*Publisher, error) {
	log := logging.Component("nats-relay")
	nc, err := nats.Connect(url,
		nats.Name("ids-relay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to nats")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	log.Info().Str("url", url).Str("subject", subject).Msg("connected to nats")
	return &Publisher{nc: nc, subject: subject, log: log}, nil
}

// NewPublisherFromConfig connects using the nats section of the config.
func NewPublisherFromConfig(cfg config.NATSConfig) (*Publisher, error) {
	return NewPublisher(cfg.URL, cfg.Subject)
}

// Send publishes one encoded event. Messages published while reconnecting
// are buffered by the client.
func (p *Publisher) Send(payload []byte) error {
	if p.nc.IsClosed() {
		return ErrNotConnected
	}
	return p.nc.Publish(p.subject, payload)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		if err := p.nc.Drain(); err != nil {
			p.log.Warn().Err(err).Msg("failed to drain nats connection")
		}
		p.log.Info().Msg("nats connection drained and closed")
	}
}
