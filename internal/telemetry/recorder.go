// Package telemetry records live sensor readings into InfluxDB.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/live"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/reactive"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/transport"
)

// DefaultMeasurement is the measurement every sensor point is written to.
const DefaultMeasurement = "agribot_sensor"

// PointWriter is satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig selects the InfluxDB bucket.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// Config configures a Recorder.
type Config struct {
	Influx InfluxConfig
	// Robot tags every point.
	Robot string
	// Buffer is the number of queued points. Zero means 256.
	Buffer       int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Recorder queues sensor readings and writes them from its own goroutine.
type Recorder struct {
	w           PointWriter
	measurement string
	robot       string
	timeout     time.Duration
	log         *slog.Logger
	now         func() time.Time

	queue   chan *write.Point
	dropped atomic.Int64
	written atomic.Int64
}

// NewInflux returns a recorder writing through a blocking InfluxDB write API, and
// the function closing the client.
func NewInflux(cfg Config) (*Recorder, func(), error) {
	ic := cfg.Influx
	if ic.URL == "" || ic.Token == "" || ic.Org == "" || ic.Bucket == "" {
		return nil, nil, fmt.Errorf("influx config incomplete")
	}
	client := influxdb2.NewClient(ic.URL, ic.Token)
	return NewRecorder(client.WriteAPIBlocking(ic.Org, ic.Bucket), cfg), client.Close, nil
}

// NewRecorder returns a recorder over w.
func NewRecorder(w PointWriter, cfg Config) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	measurement := cfg.Influx.Measurement
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		w:           w,
		measurement: sanitizeMeasurement(measurement),
		robot:       cfg.Robot,
		timeout:     cfg.WriteTimeout,
		log:         log.With("component", "telemetry"),
		now:         time.Now,
		queue:       make(chan *write.Point, cfg.Buffer),
	}
}

// Attach subscribes to the sensor cells of m. Values present at attach time are
// not recorded.
func (r *Recorder) Attach(m *live.Mirror) (detach func()) {
	unsubs := []func(){
		subscribe(m.LineSensor, func(v entities.LineSensor) {
			r.enqueue(transport.EventLineSensor, map[string]any{"left": v.Left, "right": v.Right})
		}),
		subscribe(m.Water, func(v entities.WaterReadings) {
			fields := make(map[string]any, len(v))
			for i, wet := range v {
				fields["probe_"+strconv.Itoa(i)] = wet
			}
			r.enqueue(transport.EventWaterSensor, fields)
		}),
		subscribe(m.ColorSensor, func(v entities.ColorSensor) {
			r.enqueue(transport.EventColorSensor, map[string]any{
				"r": v.Raw.R, "g": v.Raw.G, "b": v.Raw.B, "c": v.Raw.C,
				"r_norm": v.Normalized.R, "g_norm": v.Normalized.G, "b_norm": v.Normalized.B,
				"color_name": v.ColorName,
			})
		}),
		subscribe(m.Ultrasonic, func(v float64) {
			r.enqueue(transport.EventUltrasonic, map[string]any{"distance": v})
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// subscribe skips the value delivered on subscription.
func subscribe[T any](c *reactive.Cell[T], fn func(T)) func() {
	first := true
	return c.Subscribe(func(v T) {
		if first {
			first = false
			return
		}
		fn(v)
	})
}

func (r *Recorder) enqueue(sensor string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	tags := map[string]string{"sensor": sensor}
	if r.robot != "" {
		tags["robot"] = r.robot
	}
	p := influxdb2.NewPoint(r.measurement, tags, fields, r.now())
	select {
	case r.queue <- p:
	default:
		r.dropped.Add(1)
		r.log.Debug("queue full, dropping point", "sensor", sensor)
	}
}

// Run writes queued points until ctx ends. Write errors are logged.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-r.queue:
			wctx, cancel := context.WithTimeout(ctx, r.timeout)
			err := r.w.WritePoint(wctx, p)
			cancel()
			if err != nil {
				r.log.Warn("influx write error", "error", err)
				continue
			}
			r.written.Add(1)
		}
	}
}

// Dropped returns the number of points discarded on a full queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written returns the number of points written.
func (r *Recorder) Written() int64 { return r.written.Load() }

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
