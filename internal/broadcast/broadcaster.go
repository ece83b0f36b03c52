// Package broadcast fans detection events out to live subscribers.
package broadcast

import (
	"sync"

	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/metrics"
	"SpectraIDS/internal/model"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultOutboxSize is used when New is given a non-positive size.
const DefaultOutboxSize = 256

// outbox is the FIFO queue between Publish and one subscriber. A durable
// outbox belongs to a sink: it drops its oldest payload when full and its
// subscriber is never unregistered for failing.
type outbox struct {
	ch      chan []byte
	durable bool
}

// closer is implemented by subscribers that hold a connection to release
// when they are dropped.
type closer interface {
	Close()
}

// Broadcaster maintains the set of subscribers. Each subscriber has its own
// bounded outbox and delivery goroutine, so a slow peer never blocks the
// producer or its siblings. A live subscriber whose Send fails, or whose
// outbox is full, is unregistered and closed. Sinks added with RegisterSink
// stay registered until Close.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[model.Subscriber]*outbox
	outboxSize int
	closed     bool
	sinks      sync.WaitGroup
	log        zerolog.Logger
}

// New creates a Broadcaster with the given per-subscriber outbox size.
func New(outboxSize int) *Broadcaster {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Broadcaster{
		subs:       make(map[model.Subscriber]*outbox),
		outboxSize: outboxSize,
		log:        logging.Component("broadcaster"),
	}
}

// Register adds sub to the membership. Registering a member twice, or
// registering after Close, does nothing.
func (b *Broadcaster) Register(sub model.Subscriber) {
	b.register(sub, false)
}

// RegisterSink adds a durable consumer such as a relay or a store. When its
// outbox is full the oldest queued event is dropped, and Send errors are
// counted but do not remove it. Close waits for a sink's queue to drain.
func (b *Broadcaster) RegisterSink(sub model.Subscriber) {
	b.register(sub, true)
}

func (b *Broadcaster) register(sub model.Subscriber, durable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.log.Warn().Msg("register after close ignored")
		return
	}
	if _, ok := b.subs[sub]; ok {
		return
	}
	ob := &outbox{ch: make(chan []byte, b.outboxSize), durable: durable}
	b.subs[sub] = ob
	if durable {
		b.sinks.Add(1)
		go b.drain(sub, ob)
	} else {
		go b.deliver(sub, ob)
	}

	metrics.Subscribers.Set(float64(len(b.subs)))
	b.log.Info().Int("subscribers", len(b.subs)).Bool("sink", durable).Msg("subscriber registered")
}

// Unregister removes sub. Removing a non-member does nothing.
func (b *Broadcaster) Unregister(sub model.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub, nil)
}

// removeLocked drops sub if its current outbox is want (or any outbox if want
// is nil). Callers hold the write lock.
func (b *Broadcaster) removeLocked(sub model.Subscriber, want *outbox) bool {
	ob, ok := b.subs[sub]
	if !ok || (want != nil && ob != want) {
		return false
	}
	delete(b.subs, sub)
	close(ob.ch)

	metrics.Subscribers.Set(float64(len(b.subs)))
	b.log.Info().Int("subscribers", len(b.subs)).Msg("subscriber unregistered")
	return true
}

// Publish delivers event to every current subscriber. It never blocks on a
// subscriber and never reports delivery failures.
func (b *Broadcaster) Publish(event *model.DetectionEvent) {
	if event == nil || b.Count() == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to encode event")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(event.Origin)).Inc()

	type stalled struct {
		sub model.Subscriber
		ob  *outbox
	}
	var full []stalled

	b.mu.RLock()
	for sub, ob := range b.subs {
		if ob.durable {
			enqueueDropOldest(ob, payload)
			continue
		}
		select {
		case ob.ch <- payload:
		default:
			full = append(full, stalled{sub, ob})
		}
	}
	b.mu.RUnlock()

	if len(full) == 0 {
		return
	}
	var dropped []model.Subscriber
	b.mu.Lock()
	for _, s := range full {
		if b.removeLocked(s.sub, s.ob) {
			metrics.DeliveryFailures.WithLabelValues("outbox_full").Inc()
			b.log.Warn().Msg("subscriber outbox full, dropping subscriber")
			dropped = append(dropped, s.sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range dropped {
		closeDropped(sub)
	}
}

// enqueueDropOldest queues payload, evicting the oldest entries until it
// fits. Callers hold the read lock, so ob.ch is open.
func enqueueDropOldest(ob *outbox, payload []byte) {
	for {
		select {
		case ob.ch <- payload:
			return
		default:
		}
		select {
		case <-ob.ch:
			metrics.DeliveryFailures.WithLabelValues("sink_overflow").Inc()
		default:
		}
	}
}

// closeDropped releases the connection of a subscriber the broadcaster gave
// up on. It runs outside the lock because Close usually unregisters.
func closeDropped(sub model.Subscriber) {
	if c, ok := sub.(closer); ok {
		go c.Close()
	}
}

// deliver drains one outbox in order until it is closed or Send fails.
func (b *Broadcaster) deliver(sub model.Subscriber, ob *outbox) {
	for payload := range ob.ch {
		if err := sub.Send(payload); err != nil {
			b.mu.Lock()
			removed := b.removeLocked(sub, ob)
			b.mu.Unlock()
			if removed {
				metrics.DeliveryFailures.WithLabelValues("send_error").Inc()
				b.log.Debug().Err(err).Msg("subscriber send failed")
				closeDropped(sub)
			}
			return
		}
	}
}

// drain feeds a sink until its outbox is closed. Failures are logged and the
// sink keeps receiving.
func (b *Broadcaster) drain(sub model.Subscriber, ob *outbox) {
	defer b.sinks.Done()
	for payload := range ob.ch {
		if err := sub.Send(payload); err != nil {
			metrics.DeliveryFailures.WithLabelValues("sink_error").Inc()
			b.log.Warn().Err(err).Msg("sink send failed")
		}
	}
}

// Count returns the number of registered subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters every subscriber. Queued events are still handed to their
// subscribers by the delivery goroutines; Close returns once every sink has
// drained its queue.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for sub := range b.subs {
		b.removeLocked(sub, nil)
	}
	b.mu.Unlock()
	b.sinks.Wait()
}
