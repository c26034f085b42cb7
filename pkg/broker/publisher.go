package broker

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher publishes payloads to a topic.
type IPublisher interface {
	Publish(topic string, payload []byte) error
}

// Publisher publishes on a shared client.
type Publisher struct {
	client mqtt.Client
	qos    func(topic string) byte
}

// NewPublisher returns a publisher using qos to pick the level per topic.
// A nil qos publishes everything at QoS 0.
func NewPublisher(client mqtt.Client, qos func(topic string) byte) *Publisher {
	if qos == nil {
		qos = func(string) byte { return 0 }
	}
	return &Publisher{client: client, qos: qos}
}

// Publish sends payload and waits for the broker to accept it.
func (p *Publisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos(topic), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}
