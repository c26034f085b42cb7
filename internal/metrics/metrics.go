// Package metrics provides the dashboard's Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the dashboard collectors. It satisfies live.Observer and
// robot.Observer.
type Metrics struct {
	registry *prometheus.Registry

	liveEvents     *prometheus.CounterVec
	liveDropped    *prometheus.CounterVec
	liveResets     prometheus.Counter
	artifactOps    *prometheus.CounterVec
	robotCalls     *prometheus.CounterVec
	configSaves    *prometheus.CounterVec
	telemetryDrops prometheus.CounterFunc
}

// New creates the collectors and registers them in registry. A nil registry
// gets a fresh one with the Go and process collectors.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Metrics{
		registry: registry,
		liveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agribot_live_events_total",
			Help: "Robot events dispatched into the live mirror",
		}, []string{"event"}),
		liveDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agribot_live_payloads_dropped_total",
			Help: "Robot events dropped because of a malformed payload",
		}, []string{"event"}),
		liveResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agribot_live_resets_total",
			Help: "Live state resets after a disconnect",
		}),
		artifactOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agribot_artifact_operations_total",
			Help: "Configuration artifact encodes and decodes",
		}, []string{"operation", "status"}),
		robotCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agribot_robot_requests_total",
			Help: "Requests to the robot REST API",
		}, []string{"endpoint", "status"}),
		configSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agribot_config_saves_total",
			Help: "Configuration save attempts",
		}, []string{"status"}),
	}
	for _, c := range []prometheus.Collector{m.liveEvents, m.liveDropped, m.liveResets, m.artifactOps, m.robotCalls, m.configSaves} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// EventReceived counts a dispatched robot event.
func (m *Metrics) EventReceived(name string) { m.liveEvents.WithLabelValues(name).Inc() }

// PayloadDropped counts a malformed robot event.
func (m *Metrics) PayloadDropped(name string) { m.liveDropped.WithLabelValues(name).Inc() }

// StateReset counts a live state reset.
func (m *Metrics) StateReset() { m.liveResets.Inc() }

// RobotCall counts a robot request.
func (m *Metrics) RobotCall(endpoint string, err error) {
	m.robotCalls.WithLabelValues(endpoint, outcome(err)).Inc()
}

// ArtifactEncoded counts a PNG artifact build.
func (m *Metrics) ArtifactEncoded(err error) {
	m.artifactOps.WithLabelValues("encode", outcome(err)).Inc()
}

// ArtifactDecoded counts a PNG artifact read. A PNG without configuration is
// counted as "empty".
func (m *Metrics) ArtifactDecoded(found bool, err error) {
	status := outcome(err)
	if err == nil && !found {
		status = "empty"
	}
	m.artifactOps.WithLabelValues("decode", status).Inc()
}

// ConfigSaved counts a save attempt.
func (m *Metrics) ConfigSaved(err error) { m.configSaves.WithLabelValues(outcome(err)).Inc() }

// TrackTelemetryDrops exposes a counter read from fn, typically the telemetry
// recorder's dropped points.
func (m *Metrics) TrackTelemetryDrops(fn func() int64) error {
	if m.telemetryDrops != nil {
		return errors.New("metrics: telemetry drops already tracked")
	}
	m.telemetryDrops = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "agribot_telemetry_points_dropped_total",
		Help: "Sensor points discarded on a full telemetry queue",
	}, func() float64 { return float64(fn()) })
	return m.registry.Register(m.telemetryDrops)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
