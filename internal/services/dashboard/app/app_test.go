package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/artifact"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/catalog"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/configstore"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/live"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/robot"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/transport"
)

type fakeRobot struct {
	mu        sync.Mutex
	pushed    []any
	removed   []string
	scans     []string
	updateErr error
	removeErr error
	ping      model.PingStatus
	wifi      messages.WifiScan
	connected string
}

func (r *fakeRobot) Ping(context.Context) (model.PingStatus, error) { return r.ping, nil }

func (r *fakeRobot) UpdateConfig(_ context.Context, cfg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, cfg)
	return r.updateErr
}

func (r *fakeRobot) StartScan(context.Context) error {
	r.scans = append(r.scans, "start")
	return nil
}

func (r *fakeRobot) StopScan(context.Context) error {
	r.scans = append(r.scans, "stop")
	return nil
}

func (r *fakeRobot) RemoveResult(_ context.Context, key, sid string) error {
	r.removed = append(r.removed, key+"/"+sid)
	return r.removeErr
}

func (r *fakeRobot) WifiScan(context.Context) (messages.WifiScan, error) { return r.wifi, nil }

func (r *fakeRobot) WifiConnect(_ context.Context, ssid, _ string) error {
	r.connected = ssid
	return nil
}

func (r *fakeRobot) WifiSetPriority(context.Context, string, int) error { return nil }

type fakeCloud struct {
	err     error
	block   chan struct{}
	entered chan struct{}
	saved   []any
}

func (c *fakeCloud) UpdateConfig(ctx context.Context, _ string, cfg any) error {
	if c.entered != nil {
		close(c.entered)
	}
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.err != nil {
		return c.err
	}
	c.saved = append(c.saved, cfg)
	return nil
}

type fakeCatalog struct{ cat *catalog.Catalog }

func (f fakeCatalog) Current() *catalog.Catalog { return f.cat }
func (f fakeCatalog) Refresh(context.Context, bool) (*catalog.Catalog, error) {
	return f.cat, nil
}

type testEnv struct {
	app    *App
	store  *configstore.Store
	mirror *live.Mirror
	robot  *fakeRobot
	cloud  *fakeCloud
	repo   *configstore.SQLiteRepository
}

var fixedNow = time.Date(2025, 9, 21, 10, 0, 0, 0, time.Local)

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := configstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	env := &testEnv{
		store:  configstore.New(),
		mirror: live.NewMirror(nil, nil),
		robot:  &fakeRobot{ping: model.PingStatus{Status: "ok"}},
		cloud:  &fakeCloud{},
		repo:   repo,
	}
	cat := catalog.New(catalog.Data{
		ObjectDetection: []entities.DetectionModel{{ID: 1, Version: "yolo-v8"}},
		Plants:          []entities.Plant{{Name: "tomato"}, {Name: "basil"}},
	})
	env.app, err = New(Config{
		Store:   env.store,
		Mirror:  env.mirror,
		Catalog: fakeCatalog{cat: cat},
		Robot:   env.robot,
		Cloud:   env.cloud,
		Repo:    repo,
		Email:   "grower@example.com",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("agribot_up 1\n"))
		}),
		Now: func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.app.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) putConfig(t *testing.T, body string) {
	t.Helper()
	rec := e.do(http.MethodPut, "/api/config", []byte(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const twoPlants = `{
	"detectedPlants": [
		{"key": "tomato", "timestamp": "2025-09-20 08:00:00"},
		{"key": "basil", "timestamp": "2025-09-20 08:05:00"},
		{"key": "unknown-weed", "timestamp": "2025-09-20 08:10:00"}
	],
	"sprays": {"spray": ["copper"], "active": [true, false], "duration": [5]}
}`

func TestNewRequiresCoreDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPutConfigNormalizesAndMarksDirty(t *testing.T) {
	env := newEnv(t)
	env.putConfig(t, twoPlants)

	got := decode[configResponse](t, env.do(http.MethodGet, "/api/config", nil, ""))
	assert.True(t, got.Dirty)
	require.Len(t, got.Config.DetectedPlants, 2)
	assert.Equal(t, []string{"copper", "", "", ""}, got.Config.Sprays.Spray)
	assert.Equal(t, []bool{true, false, true, true}, got.Config.Sprays.Active)
	assert.Equal(t, []int{5, 2, 2, 2}, got.Config.Sprays.Duration)
	assert.Equal(t, "yolo-v8", got.Config.ObjectDetection)
}

func TestPutConfigRejectsBadBodies(t *testing.T) {
	env := newEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/config", []byte("{nope"), "application/json").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(http.MethodPut, "/api/config", []byte("[1,2]"), "application/json").Code)
	assert.False(t, env.store.IsDirty())
}

func TestSaveAdvancesBaselineAndPushesEverywhere(t *testing.T) {
	env := newEnv(t)
	env.putConfig(t, twoPlants)

	rec := env.do(http.MethodPost, "/api/config/save", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[saveResponse](t, rec)
	assert.True(t, res.Success)
	assert.True(t, res.RobotUpdated)
	assert.True(t, res.Persisted)
	assert.Empty(t, res.Message)

	assert.False(t, env.store.IsDirty())
	assert.Len(t, env.cloud.saved, 1)
	assert.Len(t, env.robot.pushed, 1)
	n, err := env.repo.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSaveCloudFailureKeepsBaseline(t *testing.T) {
	env := newEnv(t)
	env.cloud.err = errors.New("cloud said no")
	env.putConfig(t, twoPlants)
	before := env.store.CurrentConfig()

	rec := env.do(http.MethodPost, "/api/config/save", nil, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, env.store.IsDirty())
	assert.Equal(t, before, env.store.CurrentConfig())
	assert.Empty(t, env.store.Baseline().DetectedPlants)
	assert.Empty(t, env.robot.pushed)
}

func TestSaveRobotFailureIsAWarning(t *testing.T) {
	env := newEnv(t)
	env.robot.updateErr = &robot.APIError{Endpoint: robot.PathUpdateConfig, Status: 500}
	env.putConfig(t, twoPlants)

	rec := env.do(http.MethodPost, "/api/config/save", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[saveResponse](t, rec)
	assert.False(t, res.RobotUpdated)
	assert.Equal(t, "Configuration saved to cloud, but robot not updated.", res.Message)
	assert.False(t, env.store.IsDirty())
}

func TestSaveIsExclusive(t *testing.T) {
	env := newEnv(t)
	env.cloud.block = make(chan struct{})
	env.cloud.entered = make(chan struct{})

	first := make(chan int, 1)
	go func() { first <- env.do(http.MethodPost, "/api/config/save", nil, "").Code }()
	<-env.cloud.entered

	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/config/save", nil, "").Code)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPut, "/api/config", []byte(`{}`), "application/json").Code)
	ready := decode[readyResponse](t, env.do(http.MethodGet, "/readyz", nil, ""))
	assert.True(t, ready.Saving)

	close(env.cloud.block)
	assert.Equal(t, http.StatusOK, <-first)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/config", []byte(`{}`), "application/json").Code)
}

func TestWritesRefusedWhileLivestreaming(t *testing.T) {
	env := newEnv(t)
	env.putConfig(t, twoPlants)
	env.mirror.Dispatch(transport.Event{Name: transport.EventLivestreamState, Data: []byte("1")})

	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/config/save", nil, "").Code)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/plants/0/disable", nil, "").Code)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodDelete, "/api/plants/tomato", nil, "").Code)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/config/upload", []byte("x"), "image/png").Code)
	assert.Empty(t, env.cloud.saved)
	assert.Empty(t, env.robot.removed)
}

func TestRevertAndDownload(t *testing.T) {
	env := newEnv(t)
	env.putConfig(t, twoPlants)

	rec := env.do(http.MethodGet, "/api/config/download", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename=config.json`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "\n  \"detectedPlants\"")

	got := decode[configResponse](t, env.do(http.MethodPost, "/api/config/revert", nil, ""))
	assert.False(t, got.Dirty)
	assert.Empty(t, got.Config.DetectedPlants)
}

func TestArtifactRoundTripThroughUpload(t *testing.T) {
	src := newEnv(t)
	src.putConfig(t, twoPlants)
	rec := src.do(http.MethodPost, "/api/config/artifact", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), artifact.Filename)

	dst := newEnv(t)
	up := dst.do(http.MethodPost, "/api/config/upload", rec.Body.Bytes(), "image/png")
	require.Equal(t, http.StatusOK, up.Code, up.Body.String())
	got := decode[configResponse](t, up)
	assert.Equal(t, src.store.CurrentConfig(), got.Config)
	assert.True(t, got.Dirty)
}

func TestUploadFailures(t *testing.T) {
	env := newEnv(t)

	var plain bytes.Buffer
	require.NoError(t, png.Encode(&plain, image.NewGray(image.Rect(0, 0, 2, 2))))
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(http.MethodPost, "/api/config/upload", plain.Bytes(), "image/png").Code)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/config/upload", []byte("not a png"), "image/png").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/config/upload", nil, "image/png").Code)
	assert.False(t, env.store.IsDirty())
}

func TestPlantOperations(t *testing.T) {
	env := newEnv(t)
	env.putConfig(t, twoPlants)

	list := decode[[]entities.DetectedPlant](t, env.do(http.MethodGet, "/api/plants?search=BAS", nil, ""))
	require.Len(t, list, 1)
	assert.Equal(t, "basil", list[0].Key)

	rec := env.do(http.MethodPost, "/api/plants/1/disable", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[[]entities.DetectedPlant](t, rec)[1].Disabled)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/plants/9/disable", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/plants/x/disable", nil, "").Code)

	env.robot.removeErr = errors.New("robot offline")
	rec = env.do(http.MethodDelete, "/api/plants/tomato?sid=s1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tomato/s1"}, env.robot.removed)
	remaining := decode[[]entities.DetectedPlant](t, rec)
	require.Len(t, remaining, 1)
	assert.Equal(t, "basil", remaining[0].Key)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/plants/tomato", nil, "").Code)
}

func TestCatalogView(t *testing.T) {
	env := newEnv(t)
	got := decode[catalogResponse](t, env.do(http.MethodGet, "/api/catalog", nil, ""))
	assert.Equal(t, 2, got.Plants)
	assert.Len(t, got.Models[model.ObjectDetection], 1)
	assert.NotNil(t, got.Models[model.DiseaseSegmentation])

	refreshed := env.do(http.MethodPost, "/api/catalog/refresh", nil, "")
	assert.Equal(t, http.StatusOK, refreshed.Code)
}

func TestLiveSnapshotAndFrames(t *testing.T) {
	env := newEnv(t)
	env.mirror.Dispatch(transport.Event{Name: transport.EventConnect})
	env.mirror.Dispatch(transport.Event{Name: transport.EventScanFrame, Data: []byte{0xff, 0xd8, 0xff}, Binary: true})

	snap := decode[live.Snapshot](t, env.do(http.MethodGet, "/api/live", nil, ""))
	assert.True(t, snap.Connected)
	require.NotEmpty(t, snap.ScanFrame)

	rec := env.do(http.MethodGet, "/api/frames/"+snap.ScanFrame, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, rec.Body.Bytes())

	env.mirror.Dispatch(transport.Event{Name: transport.EventDisconnect})
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/frames/"+snap.ScanFrame, nil, "").Code)
}

func TestConnectWithoutTransport(t *testing.T) {
	env := newEnv(t)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/api/live/connect", nil, "").Code)
}

func TestLiveEventsStreamsSnapshots(t *testing.T) {
	env := newEnv(t)
	srv := httptest.NewServer(env.app.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/live/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "event: state\ndata: {"))

	env.mirror.Dispatch(transport.Event{Name: transport.EventUltrasonic, Data: []byte("42.5")})
	var seen strings.Builder
	for !strings.Contains(seen.String(), `"ultrasonic":42.5`) {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		seen.Write(buf[:n])
	}
}

func TestScanControl(t *testing.T) {
	env := newEnv(t)
	body := []byte(`{"state": true}`)

	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/robot/scan", body, "application/json").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/robot/scan", []byte(`{}`), "application/json").Code)

	env.mirror.Dispatch(transport.Event{Name: transport.EventConnect})
	rec := env.do(http.MethodPost, "/api/robot/scan", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"start"}, env.robot.scans)
	assert.True(t, env.mirror.Scanning.Get())

	env.mirror.Dispatch(transport.Event{Name: transport.EventLivestreamState, Data: []byte("1")})
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/robot/scan", []byte(`{"state": false}`), "application/json").Code)
}

func TestRobotEndpoints(t *testing.T) {
	env := newEnv(t)
	env.robot.wifi = messages.WifiScan{
		Networks:      []messages.WifiNetwork{{SSID: "greenhouse", Signal: 70}},
		ConnectedSSID: "greenhouse",
	}

	ping := decode[pingResponse](t, env.do(http.MethodGet, "/api/robot/ping", nil, ""))
	assert.True(t, ping.Reachable)

	scan := decode[messages.WifiScan](t, env.do(http.MethodGet, "/api/wifi/scan", nil, ""))
	assert.Equal(t, env.robot.wifi, scan)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/wifi/connect", []byte(`{"ssid": ""}`), "application/json").Code)
	rec := env.do(http.MethodPost, "/api/wifi/connect", []byte(`{"ssid": "greenhouse", "password": "pw"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "greenhouse", env.robot.connected)

	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/wifi/priority", []byte(`{"ssid": "greenhouse", "priority": 3}`), "application/json").Code)
}

func TestRobotEndpointsWithoutRobot(t *testing.T) {
	a, err := New(Config{Store: configstore.New(), Mirror: live.NewMirror(nil, nil), Catalog: fakeCatalog{}})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/robot/ping", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config/save", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthReadinessAndMetrics(t *testing.T) {
	env := newEnv(t)
	assert.Equal(t, "ok", env.do(http.MethodGet, "/healthz", nil, "").Body.String())

	ready := decode[readyResponse](t, env.do(http.MethodGet, "/readyz", nil, ""))
	assert.Equal(t, "degraded", ready.Status)
	env.mirror.Dispatch(transport.Event{Name: transport.EventConnect})
	ready = decode[readyResponse](t, env.do(http.MethodGet, "/readyz", nil, ""))
	assert.Equal(t, "ok", ready.Status)

	a, err := New(Config{Store: configstore.New(), Mirror: live.NewMirror(nil, nil), Catalog: fakeCatalog{}})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.Contains(t, env.do(http.MethodGet, "/metrics", nil, "").Body.String(), "agribot_up 1")
}
