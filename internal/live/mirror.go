// Package live mirrors the robot's live state into reactive cells driven by a
// transport event stream.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/frames"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/reactive"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/transport"
)

const (
	// MaxLogs is the length of the retained log tail.
	MaxLogs = 300
	// MaxPlantHistory is the number of retained plant history entries.
	MaxPlantHistory = 6
)

// ErrNoTransport is returned by lifecycle calls on a mirror built without a transport.
var ErrNoTransport = errors.New("live: no transport configured")

// Observer is notified of mirror activity. Implementations must be safe for
// concurrent use.
type Observer interface {
	EventReceived(name string)
	PayloadDropped(name string)
	StateReset()
}

type nopObserver struct{}

func (nopObserver) EventReceived(string)  {}
func (nopObserver) PayloadDropped(string) {}
func (nopObserver) StateReset()           {}

// Option customizes a Mirror.
type Option func(*Mirror)

// WithTransport sets the connection driven by Connect and Disconnect.
func WithTransport(t transport.Transport) Option { return func(m *Mirror) { m.transport = t } }

// WithObserver installs an activity observer.
func WithObserver(o Observer) Option { return func(m *Mirror) { m.observer = o } }

// WithClock replaces the time source used for generated history ids.
func WithClock(now func() time.Time) Option { return func(m *Mirror) { m.now = now } }

// Mirror holds the live robot state. Dispatch is its only writer; cells may be
// read from any goroutine.
type Mirror struct {
	log       *slog.Logger
	frames    *frames.Registry
	transport transport.Transport
	observer  Observer
	now       func() time.Time

	Connection      *reactive.Cell[bool]
	RobotRunning    *reactive.Cell[entities.RobotState]
	LivestreamState *reactive.Cell[entities.LiveStreamState]
	Scanning        *reactive.Cell[bool]
	RobotScanning   *reactive.Cell[bool]
	CaptureStop     *reactive.Cell[bool]
	RobotLivestream *reactive.Cell[bool]
	PerformingScan  *reactive.Cell[bool]
	CameraInfo      *reactive.Cell[entities.CameraInfo]

	ScanFrame      *reactive.Cell[*frames.Frame]
	LiveFrame      *reactive.Cell[*frames.Frame]
	RobotLiveFrame *reactive.Cell[*frames.Frame]

	LatestResults  *reactive.Cell[[]messages.LabelResult]
	PlantHistories *reactive.Cell[[]messages.PlantHistory]
	Logs           *reactive.Cell[[]string]

	LineSensor  *reactive.Cell[entities.LineSensor]
	Water       *reactive.Cell[entities.WaterReadings]
	ColorSensor *reactive.Cell[entities.ColorSensor]
	Ultrasonic  *reactive.Cell[float64]
}

// NewMirror returns a disconnected mirror whose frames are held in reg.
func NewMirror(reg *frames.Registry, log *slog.Logger, opts ...Option) *Mirror {
	if reg == nil {
		reg = frames.NewRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Mirror{
		log:      log.With("component", "live"),
		frames:   reg,
		observer: nopObserver{},
		now:      time.Now,

		Connection:      reactive.NewCell(false),
		RobotRunning:    reactive.NewCell(entities.RobotStopped),
		LivestreamState: reactive.NewCell(entities.LiveStreamStopped),
		Scanning:        reactive.NewCell(false),
		RobotScanning:   reactive.NewCell(false),
		CaptureStop:     reactive.NewCell(false),
		RobotLivestream: reactive.NewCell(false),
		PerformingScan:  reactive.NewCell(false),
		CameraInfo:      reactive.NewCell(entities.DefaultCameraInfo()),

		ScanFrame:      reactive.NewCell[*frames.Frame](nil),
		LiveFrame:      reactive.NewCell[*frames.Frame](nil),
		RobotLiveFrame: reactive.NewCell[*frames.Frame](nil),

		LatestResults:  reactive.NewCell([]messages.LabelResult{}),
		PlantHistories: reactive.NewCell([]messages.PlantHistory{}),
		Logs:           reactive.NewCell([]string{}),

		LineSensor:  reactive.NewCell(entities.LineSensor{}),
		Water:       reactive.NewCell(entities.WaterReadings{}),
		ColorSensor: reactive.NewCell(entities.DefaultColorSensor()),
		Ultrasonic:  reactive.NewCell(0.0),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Frames returns the registry holding the frame handles.
func (m *Mirror) Frames() *frames.Registry { return m.frames }

// Run feeds events into Dispatch until ctx ends or events is closed.
func (m *Mirror) Run(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Dispatch(ev)
		}
	}
}

// Connect opens the transport; its events are processed by Run.
func (m *Mirror) Connect(ctx context.Context) error {
	if m.transport == nil {
		return ErrNoTransport
	}
	return m.transport.Connect(ctx)
}

// Disconnect closes the transport and resets the connection state immediately.
// The transport replaces events still queued with a disconnect, so Run resets
// again rather than applying stale state.
func (m *Mirror) Disconnect() error {
	if m.transport == nil {
		return ErrNoTransport
	}
	err := m.transport.Close()
	m.Reset()
	return err
}

// Emit sends a command to the robot.
func (m *Mirror) Emit(name string, payload any) error {
	if m.transport == nil {
		return ErrNoTransport
	}
	return m.transport.Emit(name, payload)
}

// Dispatch applies one event to the state cells.
func (m *Mirror) Dispatch(ev transport.Event) {
	m.observer.EventReceived(ev.Name)
	if err := m.apply(ev); err != nil {
		m.observer.PayloadDropped(ev.Name)
		m.log.Warn("dropping malformed payload", "event", ev.Name, "error", err)
	}
}

func (m *Mirror) apply(ev transport.Event) error {
	switch ev.Name {
	case transport.EventConnect:
		m.log.Info("connected to robot")
		m.Connection.Set(true)
	case transport.EventDisconnect:
		m.log.Warn("disconnected from robot", "detail", string(ev.Data))
		m.Reset()
	case transport.EventConnectError:
		m.log.Error("connection error", "detail", string(ev.Data))
		m.Reset()

	case transport.EventRobotRunning:
		return setState(m.RobotRunning, ev.Data)
	case transport.EventLivestreamState:
		return setState(m.LivestreamState, ev.Data)
	case transport.EventScanningState:
		return setBool(m.Scanning, ev.Data)
	case transport.EventRobotScanningState:
		return setBool(m.RobotScanning, ev.Data)
	case transport.EventStopCapturingImage:
		return setBool(m.CaptureStop, ev.Data)
	case transport.EventPerformingScan:
		return setBool(m.PerformingScan, ev.Data)
	case transport.EventRobotLivestream:
		return setBool(m.RobotLivestream, ev.Data)

	case transport.EventCameraInfo:
		return setDecoded(m.CameraInfo, ev.Data, decodeCameraInfo)
	case transport.EventLineSensor:
		return setDecoded(m.LineSensor, ev.Data, decodeLineSensor)
	case transport.EventWaterSensor:
		return setDecoded(m.Water, ev.Data, decodeWater)
	case transport.EventColorSensor:
		return setDecoded(m.ColorSensor, ev.Data, decodeColorSensor)
	case transport.EventUltrasonic:
		return setDecoded(m.Ultrasonic, ev.Data, decodeNumber)
	case transport.EventLatestResults:
		return setDecoded(m.LatestResults, ev.Data, decodeResults)

	case transport.EventScanFrame:
		return m.replaceFrame(m.ScanFrame, ev)
	case transport.EventLivestreamFrame:
		return m.replaceFrame(m.LiveFrame, ev)
	case transport.EventRobotLivestreamFrame:
		return m.replaceFrame(m.RobotLiveFrame, ev)
	case transport.EventLivestreamFrameStop:
		m.releaseFrame(m.LiveFrame)

	case transport.EventLogs:
		logs, err := decodeLogs(ev.Data)
		if err != nil {
			return err
		}
		m.appendLogs(logs)
	case transport.EventPlantHistories:
		batch, err := decodeHistories(ev.Data)
		if err != nil {
			return err
		}
		m.mergeHistories(batch)

	default:
		m.log.Debug("ignoring unknown event", "event", ev.Name)
	}
	return nil
}

func setBool(c *reactive.Cell[bool], data []byte) error {
	return setDecoded(c, data, decodeBool)
}

func setState[T ~int](c *reactive.Cell[T], data []byte) error {
	v, err := decodeState(data)
	if err != nil {
		return err
	}
	c.Set(T(v))
	return nil
}

func setDecoded[T any](c *reactive.Cell[T], data []byte, decode func([]byte) (T, error)) error {
	if len(data) == 0 {
		return errEmpty
	}
	v, err := decode(data)
	if err != nil {
		return err
	}
	c.Set(v)
	return nil
}

// replaceFrame stores a new frame handle and releases the one it replaces.
func (m *Mirror) replaceFrame(c *reactive.Cell[*frames.Frame], ev transport.Event) error {
	data, err := frameBytes(ev)
	if err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	f := m.frames.Create(data, frames.MimeJPEG)
	old := c.Get()
	c.Set(f)
	if old != nil {
		m.frames.Release(old.ID)
	}
	return nil
}

func (m *Mirror) releaseFrame(c *reactive.Cell[*frames.Frame]) {
	if old := c.Get(); old != nil {
		c.Set(nil)
		m.frames.Release(old.ID)
	}
}

func (m *Mirror) appendLogs(batch []string) {
	if len(batch) == 0 {
		return
	}
	m.Logs.Update(func(cur []string) []string {
		combined := make([]string, 0, len(cur)+len(batch))
		combined = append(combined, cur...)
		combined = append(combined, batch...)
		if len(combined) > MaxLogs {
			combined = combined[len(combined)-MaxLogs:]
		}
		return combined
	})
}

// mergeHistories prepends batch, keeps the first entry per (src, timestamp) and
// caps the list.
func (m *Mirror) mergeHistories(batch []messages.PlantHistory) {
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = m.historyID()
		}
	}
	m.PlantHistories.Update(func(cur []messages.PlantHistory) []messages.PlantHistory {
		out := make([]messages.PlantHistory, 0, MaxPlantHistory)
		seen := make(map[string]struct{}, len(batch)+len(cur))
		for _, list := range [][]messages.PlantHistory{batch, cur} {
			for _, p := range list {
				if len(out) == MaxPlantHistory {
					return out
				}
				k := p.IdentityKey()
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, p)
			}
		}
		return out
	})
}

func (m *Mirror) historyID() string {
	return fmt.Sprintf("plant-%d-%s", m.now().UnixMilli(), uuid.NewString()[:8])
}

// Reset returns every connection-scoped cell to its disconnected value and
// releases the held frames. Sensors, logs and plant history are kept.
func (m *Mirror) Reset() {
	m.Connection.Set(false)
	m.RobotRunning.Set(entities.RobotStopped)
	m.LivestreamState.Set(entities.LiveStreamStopped)
	m.Scanning.Set(false)
	m.RobotScanning.Set(false)
	m.CaptureStop.Set(false)
	m.RobotLivestream.Set(false)
	m.PerformingScan.Set(false)
	m.CameraInfo.Set(entities.DefaultCameraInfo())

	m.releaseFrame(m.ScanFrame)
	m.releaseFrame(m.LiveFrame)
	m.releaseFrame(m.RobotLiveFrame)
	m.LatestResults.Set([]messages.LabelResult{})
	m.observer.StateReset()
}
