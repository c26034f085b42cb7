// Package broker wraps an MQTT client: connection with retries, topic publishing
// and multi-topic subscriptions.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config describes how to reach the broker.
type Config struct {
	URL      string // e.g. tcp://agribot.local:1883
	User     string
	Password string
	ClientID string

	// MaxRetries bounds the initial connect attempts. Zero means 5.
	MaxRetries int
	// MaxElapsed bounds the total time spent retrying. Zero means 10s.
	MaxElapsed time.Duration

	// OnConnect runs after every successful (re)connection.
	OnConnect func(mqtt.Client)
	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(mqtt.Client, error)

	Logger *slog.Logger
}

// ClientFactory builds a client from options. Replaced in tests.
type ClientFactory func(*mqtt.ClientOptions) mqtt.Client

// Options converts cfg into paho client options.
func (cfg *Config) Options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	if cfg.OnConnect != nil {
		opts.SetOnConnectHandler(cfg.OnConnect)
	}
	if cfg.OnConnectionLost != nil {
		opts.SetConnectionLostHandler(cfg.OnConnectionLost)
	}
	return opts
}

// Connect dials the broker, retrying with exponential backoff until it succeeds,
// retries run out or ctx is cancelled.
func Connect(ctx context.Context, cfg *Config, newClient ClientFactory) (mqtt.Client, error) {
	if newClient == nil {
		newClient = mqtt.NewClient
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "broker", "url", cfg.URL)

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 10 * time.Second
	}

	opts := cfg.Options()
	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = newClient(opts)
		token := client.Connect()
		if !waitToken(ctx, token) {
			return backoff.Permanent(ctx.Err())
		}
		if err := token.Error(); err != nil {
			log.Warn("broker connect failed", "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Info("connected to broker")
	return client, nil
}

// Close disconnects the client if it is connected.
func Close(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

// waitToken waits for token completion; it reports false when ctx ends first.
func waitToken(ctx context.Context, token mqtt.Token) bool {
	select {
	case <-token.Done():
		return true
	case <-ctx.Done():
		return false
	}
}
