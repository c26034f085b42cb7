package broker

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message received on topic.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches until its context ends.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// MultiConsumer subscribes one handler to several topics.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	qos     func(topic string) byte
	handler Handler
	log     *slog.Logger
}

// NewMultiConsumer returns a consumer for topics. A nil qos subscribes at QoS 0.
func NewMultiConsumer(client mqtt.Client, topics []string, qos func(topic string) byte, handler Handler, log *slog.Logger) *MultiConsumer {
	if qos == nil {
		qos = func(string) byte { return 0 }
	}
	if log == nil {
		log = slog.Default()
	}
	return &MultiConsumer{
		client:  client,
		topics:  topics,
		qos:     qos,
		handler: handler,
		log:     log.With("component", "broker"),
	}
}

// SetHandler replaces the handler. Call before ConsumeMessage.
func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

// Subscribe registers every topic without blocking.
func (m *MultiConsumer) Subscribe() error {
	filters := make(map[string]byte, len(m.topics))
	for _, t := range m.topics {
		filters[t] = m.qos(t)
	}
	token := m.client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		if m.handler == nil {
			m.log.Warn("no handler set", "topic", msg.Topic())
			return
		}
		if err := m.handler(msg.Topic(), msg); err != nil {
			m.log.Warn("error handling message", "topic", msg.Topic(), "error", err)
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %v: %w", m.topics, err)
	}
	m.log.Debug("subscribed", "topics", m.topics)
	return nil
}

// Unsubscribe removes every topic subscription.
func (m *MultiConsumer) Unsubscribe() {
	if m.client.IsConnected() {
		m.client.Unsubscribe(m.topics...).Wait()
	}
}

// ConsumeMessage subscribes and blocks until ctx is cancelled, then unsubscribes.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) error {
	if err := m.Subscribe(); err != nil {
		return err
	}
	<-ctx.Done()
	m.Unsubscribe()
	return nil
}
