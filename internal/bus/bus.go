// Package bus fans server events out to any number of subscribers.
package bus

import (
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

// Topics published by the server.
const (
	TopicScope = "scope"
	TopicState = "state"
)

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is a MessageBus over cskr/pubsub. Publish never waits on a
// subscriber: one whose channel is full misses the message.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

// New creates a bus whose subscriber channels buffer capacity messages.
func New(capacity int, logger *slog.Logger) *PubSubBus {
	if capacity <= 0 {
		capacity = 16
	}
	return &PubSubBus{
		ps:     pubsub.New(capacity),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("Publish", slog.String("topic", topic), slog.String("payload_type", payloadType(msg)))
	b.ps.TryPub(msg, topic)
}

// Subscribe returns one channel receiving every listed topic.
func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("Subscribe", slog.Any("topics", topics))
	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("Unsubscribe", slog.String("mode", "all"))
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("Unsubscribe", slog.Any("topics", topics))
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
