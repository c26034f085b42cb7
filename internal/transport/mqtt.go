package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/broker"
	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/dedup"
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker broker.Config
	// Prefix namespaces every topic as <prefix>/<event>. Empty means "agribot".
	Prefix string
	// Events are the event names to subscribe to. Empty means RobotEvents.
	Events []string
	// DedupTTL is how long QoS 1 deliveries are remembered. Zero means one minute.
	DedupTTL time.Duration
	Buffer   int
	Logger   *slog.Logger
	// NewClient overrides the paho client constructor.
	NewClient broker.ClientFactory
}

// MQTT is a Transport where every event is a topic. Frames travel as raw bytes on
// their own topics, everything else as JSON.
type MQTT struct {
	cfg    MQTTConfig
	log    *slog.Logger
	events chan Event
	seen   *dedup.Deduper

	mu        sync.Mutex
	client    mqtt.Client
	consumer  *broker.MultiConsumer
	publisher *broker.Publisher
	stop      chan struct{}

	connected atomic.Bool
}

// NewMQTT returns a disconnected transport.
func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.Prefix == "" {
		cfg.Prefix = "agribot"
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")
	if len(cfg.Events) == 0 {
		cfg.Events = RobotEvents
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Minute
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MQTT{
		cfg:    cfg,
		log:    log.With("component", "transport", "kind", "mqtt"),
		events: make(chan Event, cfg.Buffer),
		seen:   dedup.New(cfg.DedupTTL, 4096),
	}
}

// Topic returns the topic of an event name.
func (m *MQTT) Topic(event string) string { return m.cfg.Prefix + "/" + event }

// qos delivers frames and sensor readings at most once; state changes at least once.
func (m *MQTT) qos(topic string) byte {
	name := strings.TrimPrefix(topic, m.cfg.Prefix+"/")
	if IsFrameEvent(name) || IsSensorEvent(name) {
		return 0
	}
	return 1
}

// Events returns the event channel.
func (m *MQTT) Events() <-chan Event { return m.events }

// Connected reports whether the broker session is up.
func (m *MQTT) Connected() bool { return m.connected.Load() }

// Connect opens the broker session and subscribes to the robot topics.
func (m *MQTT) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return nil
	}

	topics := make([]string, len(m.cfg.Events))
	for i, e := range m.cfg.Events {
		topics[i] = m.Topic(e)
	}
	stop := make(chan struct{})

	bcfg := m.cfg.Broker
	if bcfg.Logger == nil {
		bcfg.Logger = m.log
	}
	// OnConnect also runs on automatic reconnects, so subscriptions are renewed there.
	bcfg.OnConnect = func(c mqtt.Client) {
		consumer := broker.NewMultiConsumer(c, topics, m.qos, m.handle(stop), m.log)
		if err := consumer.Subscribe(); err != nil {
			m.log.Error("subscribe failed", "error", err)
			return
		}
		m.connected.Store(true)
		emit(m.events, stop, Event{Name: EventConnect})
	}
	bcfg.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.connected.Store(false)
		m.log.Warn("connection lost", "error", err)
		emit(m.events, stop, Event{Name: EventDisconnect, Data: errorPayload(err)})
	}

	client, err := broker.Connect(ctx, &bcfg, m.cfg.NewClient)
	if err != nil {
		close(stop)
		m.log.Error("connect failed", "error", err)
		send(ctx, m.events, Event{Name: EventConnectError, Data: errorPayload(err)})
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.client = client
	m.consumer = broker.NewMultiConsumer(client, topics, m.qos, nil, m.log)
	m.publisher = broker.NewPublisher(client, m.qos)
	m.stop = stop
	return nil
}

func (m *MQTT) handle(stop chan struct{}) broker.Handler {
	return func(topic string, msg mqtt.Message) error {
		m.deliver(stop, topic, msg)
		return nil
	}
}

func (m *MQTT) deliver(stop chan struct{}, topic string, msg mqtt.Message) {
	name := strings.TrimPrefix(topic, m.cfg.Prefix+"/")
	if msg.Qos() > 0 {
		id := make([]byte, 2)
		binary.BigEndian.PutUint16(id, msg.MessageID())
		if !m.seen.ShouldProcess(dedup.Key([]byte(topic), id, msg.Payload())) {
			m.log.Debug("duplicate delivery dropped", "topic", topic, "id", msg.MessageID())
			return
		}
	}
	emit(m.events, stop, Event{
		Name:   name,
		Data:   append([]byte(nil), msg.Payload()...),
		Binary: IsFrameEvent(name),
	})
}

// emit delivers ev unless the connection it belongs to was closed.
func emit(events chan<- Event, stop <-chan struct{}, ev Event) {
	select {
	case <-stop:
		return
	default:
	}
	select {
	case events <- ev:
	case <-stop:
	}
}

// Emit publishes payload on the event topic. Byte slices are sent verbatim,
// other values as JSON.
func (m *MQTT) Emit(name string, payload any) error {
	m.mu.Lock()
	pub := m.publisher
	m.mu.Unlock()
	if pub == nil || !m.connected.Load() {
		return ErrNotConnected
	}
	b, ok := payload.([]byte)
	if !ok {
		var err error
		if b, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode %s payload: %w", name, err)
		}
	}
	return pub.Publish(m.Topic(name), b)
}

// Close unsubscribes and disconnects, replacing the queued events with a
// disconnect. The transport can connect again afterwards.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	close(m.stop)
	m.consumer.Unsubscribe()
	broker.Close(m.client)
	m.client, m.consumer, m.publisher, m.stop = nil, nil, nil, nil
	m.connected.Store(false)
	discardAndDisconnect(m.events)
	return nil
}
