package probe

import (
	"fmt"

	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/model"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// EventHandler processes one relayed detection event.
type EventHandler func(ev *model.DetectionEvent)

// Subscriber consumes relayed detection events from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	log     zerolog.Logger
}

// NewSubscriber connects to the NATS server at url.
func NewSubscriber(url, subject string) (*Subscriber, error) {
	nc, err := nats.Connect(url, nats.Name("ids-tail"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &Subscriber{nc: nc, subject: subject, log: logging.Component("nats-tail")}, nil
}

// Start subscribes and hands every decodable event to handler. Messages that
// are not detection events are logged and skipped.
func (s *Subscriber) Start(handler EventHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var ev model.DetectionEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.log.Warn().Err(err).Msg("dropping undecodable message")
			return
		}
		handler(&ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	// Flush so the subscription is known to the server before Start returns.
	if err := s.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	s.sub = sub
	s.log.Info().Str("subject", s.subject).Msg("subscribed, waiting for events")
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
