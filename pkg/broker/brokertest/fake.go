// Package brokertest provides an in-memory MQTT client for tests.
package brokertest

import (
	"errors"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is an already completed token.
type Token struct{ err error }

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message is a fake received message.
type Message struct {
	TopicName string
	Body      []byte
	QoS       byte
	ID        uint16
	Dup       bool
}

func (m *Message) Duplicate() bool   { return m.Dup }
func (m *Message) Qos() byte         { return m.QoS }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return m.ID }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Published is one recorded publish.
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// Client is a fake mqtt.Client. Messages delivered with Deliver reach the
// handlers of matching subscriptions.
type Client struct {
	mu sync.Mutex

	opts       *mqtt.ClientOptions
	connected  bool
	ConnectErr []error // consumed one per Connect call
	Connects   int

	subs      map[string]mqtt.MessageHandler
	qos       map[string]byte
	published []Published
}

// NewClient returns a disconnected fake built from opts.
func NewClient(opts *mqtt.ClientOptions) *Client {
	return &Client{opts: opts, subs: map[string]mqtt.MessageHandler{}, qos: map[string]byte{}}
}

// Factory returns f as a client factory that always yields c.
func (c *Client) Factory() func(*mqtt.ClientOptions) mqtt.Client {
	return func(o *mqtt.ClientOptions) mqtt.Client {
		c.mu.Lock()
		c.opts = o
		c.mu.Unlock()
		return c
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	c.Connects++
	var err error
	if len(c.ConnectErr) > 0 {
		err, c.ConnectErr = c.ConnectErr[0], c.ConnectErr[1:]
	}
	if err != nil {
		c.mu.Unlock()
		return &Token{err: err}
	}
	c.connected = true
	onConnect := c.opts.OnConnect
	c.mu.Unlock()
	if onConnect != nil {
		onConnect(c)
	}
	return &Token{}
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// DropConnection simulates a lost connection.
func (c *Client) DropConnection(err error) {
	c.mu.Lock()
	c.connected = false
	lost := c.opts.OnConnectionLost
	c.mu.Unlock()
	if lost != nil {
		lost(c, err)
	}
}

func (c *Client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = append([]byte(nil), p...)
	case string:
		b = []byte(p)
	default:
		return &Token{err: errors.New("unsupported payload type")}
	}
	c.mu.Lock()
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Payload: b})
	c.mu.Unlock()
	return &Token{}
}

func (c *Client) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subs[topic] = cb
	c.qos[topic] = qos
	c.mu.Unlock()
	return &Token{}
}

func (c *Client) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	for t, q := range filters {
		c.Subscribe(t, q, cb)
	}
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
		delete(c.qos, t)
	}
	c.mu.Unlock()
	return &Token{}
}

func (c *Client) AddRoute(topic string, cb mqtt.MessageHandler) { c.Subscribe(topic, 0, cb) }

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewOptionsReader(c.opts)
}

// Deliver hands msg to the subscription whose filter matches its topic.
// It reports false when nobody is subscribed.
func (c *Client) Deliver(msg *Message) bool {
	c.mu.Lock()
	var cb mqtt.MessageHandler
	for filter, h := range c.subs {
		if match(filter, msg.TopicName) {
			cb = h
			break
		}
	}
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(c, msg)
	return true
}

// Published returns every recorded publish.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// SubscribedQoS returns the QoS a topic filter was subscribed with.
func (c *Client) SubscribedQoS(topic string) (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.qos[topic]
	return q, ok
}

// match implements MQTT filter matching with + and # wildcards.
func match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
