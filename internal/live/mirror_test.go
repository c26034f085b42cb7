package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/frames"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/transport"
)

type countingObserver struct {
	events  map[string]int
	dropped map[string]int
	resets  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{events: map[string]int{}, dropped: map[string]int{}}
}

func (o *countingObserver) EventReceived(name string)  { o.events[name]++ }
func (o *countingObserver) PayloadDropped(name string) { o.dropped[name]++ }
func (o *countingObserver) StateReset()                { o.resets++ }

func jsonEvent(name, data string) transport.Event {
	return transport.Event{Name: name, Data: []byte(data)}
}

func frameEvent(name string, b ...byte) transport.Event {
	return transport.Event{Name: name, Data: b, Binary: true}
}

func historyBatch(t *testing.T, from, to int) transport.Event {
	t.Helper()
	entries := make([]map[string]any, 0, to-from)
	for i := from; i < to; i++ {
		entries = append(entries, map[string]any{
			"src":       fmt.Sprintf("https://img/%d.jpg", i),
			"timestamp": fmt.Sprintf("2025-09-21 10:%02d:00", i),
			"label":     "tomato",
		})
	}
	b, err := json.Marshal(entries)
	require.NoError(t, err)
	return transport.Event{Name: transport.EventPlantHistories, Data: b}
}

func TestConnectSetsOnlyConnection(t *testing.T) {
	m := NewMirror(nil, nil)
	m.Dispatch(jsonEvent(transport.EventScanningState, "true"))
	m.Dispatch(transport.Event{Name: transport.EventConnect})

	assert.True(t, m.Connection.Get())
	assert.True(t, m.Scanning.Get())
	assert.Equal(t, entities.DefaultCameraInfo(), m.CameraInfo.Get())
}

func TestDisconnectResetsConnectionState(t *testing.T) {
	for _, name := range []string{transport.EventDisconnect, transport.EventConnectError} {
		t.Run(name, func(t *testing.T) {
			reg := frames.NewRegistry()
			obs := newCountingObserver()
			m := NewMirror(reg, nil, WithObserver(obs))

			m.Dispatch(transport.Event{Name: transport.EventConnect})
			m.Dispatch(jsonEvent(transport.EventRobotRunning, "1"))
			m.Dispatch(jsonEvent(transport.EventLivestreamState, "2"))
			for _, e := range []string{
				transport.EventScanningState, transport.EventRobotScanningState,
				transport.EventStopCapturingImage, transport.EventRobotLivestream,
				transport.EventPerformingScan,
			} {
				m.Dispatch(jsonEvent(e, "true"))
			}
			m.Dispatch(jsonEvent(transport.EventCameraInfo, `{"status":"true","fps":30}`))
			m.Dispatch(frameEvent(transport.EventScanFrame, 1))
			m.Dispatch(frameEvent(transport.EventLivestreamFrame, 2))
			m.Dispatch(frameEvent(transport.EventRobotLivestreamFrame, 3))
			m.Dispatch(jsonEvent(transport.EventLatestResults, `[{"label":"leaf"}]`))
			m.Dispatch(jsonEvent(transport.EventLogs, `{"logs":["hello"]}`))
			m.Dispatch(jsonEvent(transport.EventUltrasonic, "12.5"))
			m.Dispatch(historyBatch(t, 0, 2))
			require.Equal(t, 3, reg.Len())

			m.Dispatch(jsonEvent(name, `{"message":"gone"}`))

			s := m.Snapshot()
			assert.False(t, s.Connected)
			assert.Equal(t, entities.RobotStopped, s.RobotRunning)
			assert.Equal(t, entities.LiveStreamStopped, s.LivestreamState)
			assert.False(t, s.Scanning || s.RobotScanning || s.CaptureStop || s.RobotLivestream || s.PerformingScan)
			assert.Equal(t, entities.DefaultCameraInfo(), s.CameraInfo)
			assert.Empty(t, s.ScanFrame)
			assert.Empty(t, s.LiveFrame)
			assert.Empty(t, s.RobotLiveFrame)
			assert.Empty(t, s.LatestResults)
			assert.Zero(t, reg.Len(), "frames are released on reset")

			// sensors, logs and history survive a disconnect
			assert.Equal(t, []string{"hello"}, s.Logs)
			assert.Equal(t, 12.5, s.Ultrasonic)
			assert.Len(t, s.PlantHistories, 2)
			assert.Equal(t, 1, obs.resets)
		})
	}
}

func TestPlantHistoryCapAndDedup(t *testing.T) {
	base := time.Date(2025, 9, 21, 10, 0, 0, 0, time.UTC)
	m := NewMirror(nil, nil, WithClock(func() time.Time { return base }))

	// ten overlapping batches of five, each shifted by two
	for i := 0; i < 10; i++ {
		m.Dispatch(historyBatch(t, i*2, i*2+5))

		got := m.PlantHistories.Get()
		require.LessOrEqual(t, len(got), MaxPlantHistory)
		seen := map[string]bool{}
		for _, p := range got {
			k := p.IdentityKey()
			require.False(t, seen[k], "duplicate %q after batch %d", p.Src, i)
			seen[k] = true
			assert.True(t, strings.HasPrefix(p.ID, fmt.Sprintf("plant-%d-", base.UnixMilli())), p.ID)
			assert.Equal(t, "tomato", p.Extra["label"])
		}
	}

	// newest batch first, then what remains of the previous one
	got := m.PlantHistories.Get()
	require.Len(t, got, MaxPlantHistory)
	want := []int{18, 19, 20, 21, 22, 16}
	for i, n := range want {
		assert.Equal(t, fmt.Sprintf("https://img/%d.jpg", n), got[i].Src)
	}
	// An unbounded history would hold 23 distinct entries here. The dashboard only
	// renders the newest few, so the cap is kept.
}

func TestPlantHistoryKeepsFirstAndExistingIDs(t *testing.T) {
	m := NewMirror(nil, nil)
	m.Dispatch(jsonEvent(transport.EventPlantHistories,
		`[{"id":"a","src":"x","timestamp":1},{"id":"b","src":"x","timestamp":1},{"src":"y","timestamp":1}]`))

	got := m.PlantHistories.Get()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "y", got[1].Src)
	assert.NotEmpty(t, got[1].ID)
}

func TestLogTailIsCapped(t *testing.T) {
	m := NewMirror(nil, nil)
	for batch := 0; batch < 7; batch++ {
		lines := make([]string, 50)
		for i := range lines {
			lines[i] = fmt.Sprintf("line %d", batch*50+i)
		}
		b, err := json.Marshal(map[string]any{"logs": lines})
		require.NoError(t, err)
		m.Dispatch(transport.Event{Name: transport.EventLogs, Data: b})
	}

	logs := m.Logs.Get()
	require.Len(t, logs, MaxLogs)
	assert.Equal(t, "line 50", logs[0])
	assert.Equal(t, "line 349", logs[len(logs)-1])
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	obs := newCountingObserver()
	m := NewMirror(nil, nil, WithObserver(obs))
	m.Dispatch(jsonEvent(transport.EventRobotRunning, "2"))
	m.Dispatch(jsonEvent(transport.EventWaterSensor, `{"readings":[true,false]}`))

	bad := []transport.Event{
		jsonEvent(transport.EventRobotRunning, `"running"`),
		jsonEvent(transport.EventRobotRunning, "1.5"),
		jsonEvent(transport.EventScanningState, "1"),
		jsonEvent(transport.EventWaterSensor, `{"other":1}`),
		jsonEvent(transport.EventWaterSensor, `[true]`),
		jsonEvent(transport.EventCameraInfo, `"on"`),
		jsonEvent(transport.EventLatestResults, `"not json"`),
		jsonEvent(transport.EventLatestResults, `{"a":1}`),
		jsonEvent(transport.EventLogs, `["x"]`),
		jsonEvent(transport.EventPlantHistories, `{"src":"x"}`),
		jsonEvent(transport.EventPlantHistories, `[1,2]`),
		jsonEvent(transport.EventUltrasonic, ""),
		frameEvent(transport.EventScanFrame),
		jsonEvent(transport.EventLivestreamFrame, `"%%%"`),
	}
	for _, ev := range bad {
		m.Dispatch(ev)
	}

	assert.Equal(t, entities.RobotPaused, m.RobotRunning.Get())
	assert.Equal(t, entities.WaterReadings{true, false}, m.Water.Get())
	assert.False(t, m.Scanning.Get())
	assert.Equal(t, entities.DefaultCameraInfo(), m.CameraInfo.Get())
	assert.Empty(t, m.LatestResults.Get())
	assert.Empty(t, m.PlantHistories.Get())
	assert.Nil(t, m.ScanFrame.Get())
	assert.Nil(t, m.LiveFrame.Get())

	total := 0
	for _, n := range obs.dropped {
		total += n
	}
	assert.Equal(t, len(bad), total)
}

func TestCameraInfoMergesOverDefaults(t *testing.T) {
	m := NewMirror(nil, nil)
	m.Dispatch(jsonEvent(transport.EventCameraInfo, `{"status":"true","fps":15,"detectionConf":"0.5"}`))

	info := m.CameraInfo.Get()
	assert.Equal(t, "true", info.Status)
	assert.Equal(t, 15.0, info.FPS)
	assert.Equal(t, "NOT SET", info.Resolution)
	assert.Equal(t, "NOT SET", info.IP)
	require.NotNil(t, info.DetectionConf)
	assert.Equal(t, "0.5", *info.DetectionConf)

	// a later partial update starts from the defaults again
	m.Dispatch(jsonEvent(transport.EventCameraInfo, `{"ip":"10.0.0.2"}`))
	assert.Equal(t, entities.CameraInfo{Status: "false", Resolution: "NOT SET", IP: "10.0.0.2"}, m.CameraInfo.Get())
}

func TestLatestResultsStringOrArray(t *testing.T) {
	m := NewMirror(nil, nil)
	m.Dispatch(jsonEvent(transport.EventLatestResults, `"[{\"label\":\"leaf\"},{\"label\":\"fruit\"}]"`))
	got := m.LatestResults.Get()
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"label":"fruit"}`, string(got[1]))

	m.Dispatch(jsonEvent(transport.EventLatestResults, `[{"label":"stem"}]`))
	got = m.LatestResults.Get()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"label":"stem"}`, string(got[0]))

	m.Dispatch(jsonEvent(transport.EventLatestResults, `"[]"`))
	assert.Empty(t, m.LatestResults.Get())
}

func TestFramesReplaceAndStop(t *testing.T) {
	reg := frames.NewRegistry()
	m := NewMirror(reg, nil)

	m.Dispatch(frameEvent(transport.EventLivestreamFrame, 0xff, 0xd8, 1))
	first := m.LiveFrame.Get()
	require.NotNil(t, first)
	assert.Equal(t, frames.MimeJPEG, first.Mime)

	encoded, err := json.Marshal(base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 2}))
	require.NoError(t, err)
	m.Dispatch(transport.Event{Name: transport.EventLivestreamFrame, Data: encoded})
	second := m.LiveFrame.Get()
	require.NotNil(t, second)
	assert.Equal(t, []byte{0xff, 0xd8, 2}, second.Data)
	_, ok := reg.Get(first.ID)
	assert.False(t, ok, "replaced frame is released")
	assert.Equal(t, 1, reg.Len())

	m.Dispatch(transport.Event{Name: transport.EventLivestreamFrameStop})
	assert.Nil(t, m.LiveFrame.Get())
	assert.Zero(t, reg.Len())
}

func TestSensors(t *testing.T) {
	m := NewMirror(nil, nil)
	m.Dispatch(jsonEvent(transport.EventLineSensor, `{"left":true}`))
	m.Dispatch(jsonEvent(transport.EventColorSensor, `{"raw":{"r":1,"g":2,"b":3,"c":4},"color_name":"GREEN"}`))

	assert.Equal(t, entities.LineSensor{Left: true}, m.LineSensor.Get())
	c := m.ColorSensor.Get()
	assert.Equal(t, "GREEN", c.ColorName)
	assert.Equal(t, 4.0, c.Raw.C)
}

func TestWatchSkipsInitialValues(t *testing.T) {
	m := NewMirror(nil, nil)
	calls := 0
	unwatch := m.Watch(func() { calls++ })
	assert.Zero(t, calls)

	m.Dispatch(jsonEvent(transport.EventScanningState, "true"))
	assert.Equal(t, 1, calls)

	unwatch()
	m.Dispatch(jsonEvent(transport.EventScanningState, "false"))
	assert.Equal(t, 1, calls)
}

type stubTransport struct {
	events    chan transport.Event
	connected bool
	closed    int
	emitted   []string
}

func (s *stubTransport) Connect(context.Context) error {
	s.connected = true
	s.events <- transport.Event{Name: transport.EventConnect}
	return nil
}
func (s *stubTransport) Events() <-chan transport.Event { return s.events }
func (s *stubTransport) Emit(name string, _ any) error {
	s.emitted = append(s.emitted, name)
	return nil
}
func (s *stubTransport) Close() error {
	s.closed++
	s.connected = false
	return nil
}
func (s *stubTransport) Connected() bool { return s.connected }

func TestLifecycleOverTransport(t *testing.T) {
	tr := &stubTransport{events: make(chan transport.Event, 4)}
	m := NewMirror(nil, nil, WithTransport(tr))

	require.NoError(t, m.Connect(context.Background()))
	tr.events <- jsonEvent(transport.EventRobotRunning, "1")
	close(tr.events)
	m.Run(context.Background(), tr.Events())

	assert.True(t, m.Connection.Get())
	assert.Equal(t, entities.RobotRunning, m.RobotRunning.Get())

	require.NoError(t, m.Emit("start_livestream", nil))
	assert.Equal(t, []string{"start_livestream"}, tr.emitted)

	require.NoError(t, m.Disconnect())
	assert.Equal(t, 1, tr.closed)
	assert.False(t, m.Connection.Get(), "explicit disconnect resets without a transport event")
	assert.Equal(t, entities.RobotStopped, m.RobotRunning.Get())
}

func TestLifecycleWithoutTransport(t *testing.T) {
	m := NewMirror(nil, nil)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrNoTransport)
	assert.ErrorIs(t, m.Disconnect(), ErrNoTransport)
	assert.ErrorIs(t, m.Emit("x", nil), ErrNoTransport)
}

func TestDisconnectDiscardsQueuedEvents(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"robot-running","data":1}`))
		_ = c.WriteMessage(websocket.BinaryMessage, append([]byte("scan_frame\x00"), 0xff, 0xd8))
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	ws := transport.NewWebSocket(transport.WebSocketConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	m := NewMirror(frames.NewRegistry(), nil, WithTransport(ws))
	require.NoError(t, m.Connect(context.Background()))
	// connect, robot-running and scan_frame are queued but not yet applied
	require.Eventually(t, func() bool { return len(ws.Events()) == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Disconnect())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, ws.Events())
	}()
	require.Eventually(t, func() bool { return len(ws.Events()) == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.False(t, m.Connection.Get())
	assert.Equal(t, entities.RobotStopped, m.RobotRunning.Get())
	assert.Nil(t, m.ScanFrame.Get())
	assert.Equal(t, 0, m.Frames().Len())
}
