package live

import (
	"sync/atomic"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/frames"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/reactive"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/transport"
)

// Snapshot is a point-in-time copy of the mirror. Frames are referenced by id.
type Snapshot struct {
	Connected       bool                     `json:"connected"`
	RobotRunning    entities.RobotState      `json:"robotRunning"`
	LivestreamState entities.LiveStreamState `json:"livestreamState"`
	Scanning        bool                     `json:"scanning"`
	RobotScanning   bool                     `json:"robotScanning"`
	CaptureStop     bool                     `json:"stopCapture"`
	RobotLivestream bool                     `json:"robotLivestream"`
	PerformingScan  bool                     `json:"performingScan"`
	CameraInfo      entities.CameraInfo      `json:"cameraInfo"`

	ScanFrame      string `json:"scanFrame,omitempty"`
	LiveFrame      string `json:"liveFrame,omitempty"`
	RobotLiveFrame string `json:"robotLiveFrame,omitempty"`

	LatestResults  []messages.LabelResult  `json:"latestResults"`
	PlantHistories []messages.PlantHistory `json:"plantHistories"`
	Logs           []string                `json:"logs"`

	LineSensor  entities.LineSensor    `json:"lineSensor"`
	Water       entities.WaterReadings `json:"waterSensor"`
	ColorSensor entities.ColorSensor   `json:"colorSensor"`
	Ultrasonic  float64                `json:"ultrasonic"`
}

// Snapshot reads every cell. Cells are read one by one, so a snapshot taken while
// events are dispatched may mix two consecutive states.
func (m *Mirror) Snapshot() Snapshot {
	return Snapshot{
		Connected:       m.Connection.Get(),
		RobotRunning:    m.RobotRunning.Get(),
		LivestreamState: m.LivestreamState.Get(),
		Scanning:        m.Scanning.Get(),
		RobotScanning:   m.RobotScanning.Get(),
		CaptureStop:     m.CaptureStop.Get(),
		RobotLivestream: m.RobotLivestream.Get(),
		PerformingScan:  m.PerformingScan.Get(),
		CameraInfo:      m.CameraInfo.Get(),

		ScanFrame:      frameID(m.ScanFrame.Get()),
		LiveFrame:      frameID(m.LiveFrame.Get()),
		RobotLiveFrame: frameID(m.RobotLiveFrame.Get()),

		LatestResults:  append([]messages.LabelResult{}, m.LatestResults.Get()...),
		PlantHistories: append([]messages.PlantHistory{}, m.PlantHistories.Get()...),
		Logs:           append([]string{}, m.Logs.Get()...),

		LineSensor:  m.LineSensor.Get(),
		Water:       append(entities.WaterReadings{}, m.Water.Get()...),
		ColorSensor: m.ColorSensor.Get(),
		Ultrasonic:  m.Ultrasonic.Get(),
	}
}

func frameID(f *frames.Frame) string {
	if f == nil {
		return ""
	}
	return f.ID
}

// Livestreaming reports whether the dashboard livestream is not stopped.
func (m *Mirror) Livestreaming() bool {
	return m.LivestreamState.Get() != entities.LiveStreamStopped
}

// Watch calls fn after every write to any cell. The initial values delivered on
// subscription are skipped. fn runs on the writing goroutine and must not block.
func (m *Mirror) Watch(fn func()) (unwatch func()) {
	var armed atomic.Bool
	notify := func() {
		if armed.Load() {
			fn()
		}
	}
	unsubs := []func(){
		watch(m.Connection, notify),
		watch(m.RobotRunning, notify),
		watch(m.LivestreamState, notify),
		watch(m.Scanning, notify),
		watch(m.RobotScanning, notify),
		watch(m.CaptureStop, notify),
		watch(m.RobotLivestream, notify),
		watch(m.PerformingScan, notify),
		watch(m.CameraInfo, notify),
		watch(m.ScanFrame, notify),
		watch(m.LiveFrame, notify),
		watch(m.RobotLiveFrame, notify),
		watch(m.LatestResults, notify),
		watch(m.PlantHistories, notify),
		watch(m.Logs, notify),
		watch(m.LineSensor, notify),
		watch(m.Water, notify),
		watch(m.ColorSensor, notify),
		watch(m.Ultrasonic, notify),
	}
	armed.Store(true)
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func watch[T any](c *reactive.Cell[T], fn func()) func() {
	return c.Subscribe(func(T) { fn() })
}

// Connected reports whether the robot connection is up.
func (m *Mirror) Connected() bool { return m.Connection.Get() }

// SetScanning records a scanning state confirmed outside the event stream, such
// as a successful scan request.
func (m *Mirror) SetScanning(v bool) {
	data := []byte("false")
	if v {
		data = []byte("true")
	}
	m.Dispatch(transport.Event{Name: transport.EventScanningState, Data: data})
}
