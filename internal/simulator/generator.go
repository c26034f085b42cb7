package simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
)

const (
	// wetPerMin is how much each probe's wetness rises per minute while spraying.
	wetPerMin = 0.5
	// wetThreshold is the wetness above which a probe reads wet.
	wetThreshold = 0.5

	minDistance = 5.0
	maxDistance = 200.0
)

type namedColor struct {
	name    string
	r, g, b float64
}

var palette = []namedColor{
	{"green", 40, 180, 60},
	{"brown", 120, 80, 40},
	{"red", 200, 40, 40},
	{"yellow", 220, 200, 50},
}

// Reading is one sample of every robot sensor.
type Reading struct {
	Line       entities.LineSensor
	Water      entities.WaterReadings
	Color      entities.ColorSensor
	Ultrasonic float64
}

// Generator evolves simulated sensor values over time. Water probes dry out with
// the given half-life while the robot is parked and get wet while it sprays.
type Generator struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	last     time.Time
	decay    float64 // per minute
	wetness  []float64
	distance float64
	color    int
}

// NewGenerator returns a generator for probes water probes.
func NewGenerator(probes int, halfLife time.Duration, seed int64) *Generator {
	if probes <= 0 {
		probes = 1
	}
	decay := 0.0
	if halfLife > 0 {
		decay = math.Ln2 / halfLife.Minutes()
	}
	return &Generator{
		rnd:      rand.New(rand.NewSource(seed)),
		decay:    decay,
		wetness:  make([]float64, probes),
		distance: 50,
	}
}

// Next advances the simulation to now.
func (g *Generator) Next(now time.Time, spraying bool) Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	dtMin := 0.0
	if !g.last.IsZero() {
		dtMin = math.Max(0, now.Sub(g.last).Minutes())
	}
	g.last = now

	water := make(entities.WaterReadings, len(g.wetness))
	for i, w := range g.wetness {
		if spraying {
			w = clamp(w+wetPerMin*dtMin, 0, 1)
		} else {
			w *= math.Exp(-g.decay * dtMin)
		}
		g.wetness[i] = w
		water[i] = w >= wetThreshold
	}

	g.distance = clamp(g.distance+g.rnd.NormFloat64()*5, minDistance, maxDistance)
	if g.rnd.Float64() < 0.1 {
		g.color = g.rnd.Intn(len(palette))
	}

	return Reading{
		Line:       entities.LineSensor{Left: g.rnd.Float64() < 0.5, Right: g.rnd.Float64() < 0.5},
		Water:      water,
		Color:      g.colorReading(),
		Ultrasonic: math.Round(g.distance*10) / 10,
	}
}

func (g *Generator) colorReading() entities.ColorSensor {
	c := palette[g.color]
	jitter := func(v float64) float64 { return clamp(v+g.rnd.NormFloat64()*4, 0, 255) }
	r, gr, b := jitter(c.r), jitter(c.g), jitter(c.b)
	return entities.ColorSensor{
		Raw:        entities.ColorRaw{R: r * 4, G: gr * 4, B: b * 4, C: (r + gr + b) * 4},
		Normalized: entities.ColorNormalized{R: math.Round(r), G: math.Round(gr), B: math.Round(b)},
		ColorName:  c.name,
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, x))
}
