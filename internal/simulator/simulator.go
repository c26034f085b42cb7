// Package simulator is a stand-in robot for running the dashboard without
// hardware. It publishes sensor readings on the MQTT event topics and runs
// spray cycles on request.
package simulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/transport"
	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/broker"
	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/dedup"
)

// RunSuffix is the topic suffix that starts or stops a simulated run.
const RunSuffix = "sim/run"

// RunCommand is the payload of the run topic. A positive Duration reverts the state
// once it elapses.
type RunCommand struct {
	State    entities.RobotState `json:"state"`
	Duration string              `json:"duration,omitempty"`
}

// Simulator publishes readings from a Generator and reacts to run commands.
type Simulator struct {
	prefix    string
	gen       *Generator
	publisher broker.IPublisher
	consumer  broker.IConsumer
	deduper   *dedup.Deduper
	log       *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state entities.RobotState
	timer *time.Timer
}

// New returns a simulator publishing under prefix.
func New(consumer broker.IConsumer, publisher broker.IPublisher, gen *Generator, prefix string, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "agribot"
	}
	return &Simulator{
		prefix:    strings.TrimSuffix(prefix, "/"),
		gen:       gen,
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
		log:       log.With("component", "simulator"),
		now:       time.Now,
	}
}

// RunTopic returns the full run command topic.
func (s *Simulator) RunTopic() string { return s.topic(RunSuffix) }

func (s *Simulator) topic(event string) string { return s.prefix + "/" + event }

// Start consumes run commands and publishes a reading every interval until ctx
// ends.
func (s *Simulator) Start(ctx context.Context, interval time.Duration) error {
	s.consumer.SetHandler(s.handleMessage)
	errc := make(chan error, 1)
	go func() { errc <- s.consumer.ConsumeMessage(ctx) }()

	s.publish(transport.EventRobotRunning, s.State())
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("simulator commands: %w", err)
			}
		case <-t.C:
			s.Tick()
		}
	}
}

// Tick publishes one reading of every sensor.
func (s *Simulator) Tick() {
	r := s.gen.Next(s.now(), s.State() == entities.RobotRunning)
	s.publish(transport.EventLineSensor, r.Line)
	s.publish(transport.EventWaterSensor, map[string]any{"readings": r.Water})
	s.publish(transport.EventColorSensor, r.Color)
	s.publish(transport.EventUltrasonic, r.Ultrasonic)
}

// State returns the simulated robot state.
func (s *Simulator) State() entities.RobotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulator) publish(event string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode reading", "event", event, "error", err)
		return
	}
	if err := s.publisher.Publish(s.topic(event), b); err != nil {
		s.log.Warn("publish failed", "event", event, "error", err)
	}
}

func (s *Simulator) handleMessage(_ string, msg mqtt.Message) error {
	// QoS 1 redeliveries carry the same payload
	h := sha256.Sum256(msg.Payload())
	if !s.deduper.ShouldProcess(hex.EncodeToString(h[:])) {
		return nil
	}
	var cmd RunCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		return fmt.Errorf("invalid run command: %w", err)
	}
	var d time.Duration
	if cmd.Duration != "" {
		var err error
		if d, err = time.ParseDuration(cmd.Duration); err != nil {
			return fmt.Errorf("invalid run duration %q: %w", cmd.Duration, err)
		}
	}
	s.applyTimedState(cmd.State, d)
	return nil
}

func (s *Simulator) applyTimedState(state entities.RobotState, d time.Duration) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	prev := s.state
	s.state = state
	if d > 0 {
		s.timer = time.AfterFunc(d, func() {
			s.mu.Lock()
			s.state = prev
			s.timer = nil
			s.mu.Unlock()
			s.announce(prev, 0)
		})
	}
	s.mu.Unlock()
	s.announce(state, d)
}

func (s *Simulator) announce(state entities.RobotState, d time.Duration) {
	line := "robot " + state.String()
	if d > 0 {
		line += " for " + d.String()
	}
	s.log.Info(line)
	s.publish(transport.EventRobotRunning, state)
	s.publish(transport.EventLogs, map[string][]string{"logs": {s.now().Format("15:04:05") + " " + line}})
}

func (s *Simulator) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// ParseState accepts a state name or number.
func ParseState(v string) (entities.RobotState, error) {
	switch strings.ToLower(v) {
	case "stopped", "stop":
		return entities.RobotStopped, nil
	case "running", "run":
		return entities.RobotRunning, nil
	case "paused", "pause":
		return entities.RobotPaused, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 2 {
		return 0, fmt.Errorf("unknown robot state %q", v)
	}
	return entities.RobotState(n), nil
}
