package bus

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

type Subscription chan any

// Publisher is the write side of the bus handed to event producers.
type Publisher interface {
	Publish(topic string, msg any)
}

type MessageBus interface {
	Publisher
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger) *PubSubBus {
	if logger == nil {
		logger = slog.Default()
	}

	return &PubSubBus{
		ps:     pubsub.New(128),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) Subscribe(topic string) Subscription {
	ch := b.ps.Sub(topic)
	b.logger.Debug("subscribe", "topic", topic)
	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

// Listen subscribes to topic before returning, then calls fn from a new
// goroutine for every message of type T until ctx is done or the bus is
// closed. Messages of other types are skipped. The returned channel is closed
// when the listener stops.
func Listen[T any](ctx context.Context, b MessageBus, topic string, fn func(T)) <-chan struct{} {
	sub := b.Subscribe(topic)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				go drain(sub)
				b.Unsubscribe(sub, topic)
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				msg, ok := raw.(T)
				if !ok {
					continue
				}
				fn(msg)
			}
		}
	}()

	return done
}

// drain empties a subscription until it is closed so an unsubscribe racing
// with a publish cannot block the bus loop.
func drain(sub Subscription) {
	for range sub {
	}
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
