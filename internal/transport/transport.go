// Package transport delivers robot events over a persistent connection.
package transport

import (
	"context"
	"errors"
)

// Lifecycle events synthesized by the transports.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Robot events.
const (
	EventRobotRunning         = "robot-running"
	EventLivestreamState      = "livestream-state"
	EventScanningState        = "scanning-state"
	EventRobotScanningState   = "robot-scanning-state"
	EventStopCapturingImage   = "stop-capturing-image"
	EventPerformingScan       = "performing-scan"
	EventRobotLivestream      = "robot-livestream"
	EventCameraInfo           = "camera_info"
	EventScanFrame            = "scan_frame"
	EventLatestResults        = "latest_results"
	EventLivestreamFrame      = "livestream_frame"
	EventLivestreamFrameStop  = "livestream_frame_stop"
	EventRobotLivestreamFrame = "robot_livestream_frame"
	EventLogs                 = "logs"
	EventPlantHistories       = "plant-histories"
	EventLineSensor           = "tcrt5000"
	EventWaterSensor          = "watersensor"
	EventColorSensor          = "tcs34725"
	EventUltrasonic           = "ultrasonic"
)

// RobotEvents lists every event the robot may send.
var RobotEvents = []string{
	EventRobotRunning, EventLivestreamState, EventScanningState, EventRobotScanningState,
	EventStopCapturingImage, EventPerformingScan, EventRobotLivestream, EventCameraInfo,
	EventScanFrame, EventLatestResults, EventLivestreamFrame, EventLivestreamFrameStop,
	EventRobotLivestreamFrame, EventLogs, EventPlantHistories,
	EventLineSensor, EventWaterSensor, EventColorSensor, EventUltrasonic,
}

// IsFrameEvent reports whether the event carries a binary camera frame.
func IsFrameEvent(name string) bool {
	switch name {
	case EventScanFrame, EventLivestreamFrame, EventRobotLivestreamFrame:
		return true
	}
	return false
}

// IsSensorEvent reports whether the event is a high-rate sensor reading.
func IsSensorEvent(name string) bool {
	switch name {
	case EventLineSensor, EventWaterSensor, EventColorSensor, EventUltrasonic:
		return true
	}
	return false
}

// ErrNotConnected is returned by Emit without a live connection.
var ErrNotConnected = errors.New("transport: not connected")

// Event is one named message. Data is JSON unless Binary is set.
type Event struct {
	Name   string
	Data   []byte
	Binary bool
}

// Transport is a persistent bidirectional robot connection.
// Events are delivered in arrival order on a single channel that stays open for
// the transport's lifetime. Closing a live connection discards the events it
// left queued and queues a disconnect in their place.
type Transport interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	Emit(name string, payload any) error
	Close() error
	Connected() bool
}

var closedLocally = []byte(`{"message":"closed locally"}`)

// discardAndDisconnect drops the events still queued for a closed connection and
// queues a disconnect after them. The producers must have stopped.
func discardAndDisconnect(events chan Event) {
drain:
	for {
		select {
		case <-events:
		default:
			break drain
		}
	}
	select {
	case events <- Event{Name: EventDisconnect, Data: closedLocally}:
	default:
	}
}

// send queues ev unless ctx ends first.
func send(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
