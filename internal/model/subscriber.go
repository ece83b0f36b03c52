package model

import "context"

// Subscriber is a live consumer of the detection-event stream. Send returns an
// error once the peer is gone; the caller then drops the subscriber.
//
// Implementations must be comparable (typically pointer types).
type Subscriber interface {
	Send(payload []byte) error
}

// EventSource produces a lazy sequence of raw events. The returned channel is
// closed when the source is exhausted or ctx is canceled.
type EventSource interface {
	Events(ctx context.Context) <-chan RawEvent
}
