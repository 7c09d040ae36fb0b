package bus

import "context"

// Relay publishes one topic from its own goroutine. Offer never blocks;
// a message still waiting when the next one arrives is replaced.
type Relay struct {
	bus     MessageBus
	topic   string
	pending chan any
}

func NewRelay(b MessageBus, topic string) *Relay {
	return &Relay{
		bus:     b,
		topic:   topic,
		pending: make(chan any, 1),
	}
}

// Offer queues msg for publishing and reports whether an older message
// was discarded to make room.
func (r *Relay) Offer(msg any) bool {
	select {
	case r.pending <- msg:
		return false
	default:
	}

	replaced := false
	select {
	case <-r.pending:
		replaced = true
	default:
	}
	select {
	case r.pending <- msg:
	default:
	}
	return replaced
}

// Run publishes queued messages until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.pending:
			r.bus.Publish(r.topic, msg)
		}
	}
}
